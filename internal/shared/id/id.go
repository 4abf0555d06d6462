// Package id provides message ID generation for the bridge.
//
// Two sources are available:
//   - ULID: lexicographically sortable, monotonic within a millisecond (default)
//   - UUID: random v4 identifiers, matching what browsers hand out via crypto.randomUUID
//
// Both satisfy Source, which is what the correlation engine consumes. A
// message ID must never repeat within the lifetime of an endpoint, so the
// ULID generator uses monotonic entropy guarded by a mutex.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MessageID identifies one invocation/response pair on the wire
type MessageID string

// String returns the raw identifier
func (id MessageID) String() string { return string(id) }

// MessagePrefix is prepended to ULID message IDs for readable logs
const MessagePrefix = "msg"

// Format names an ID source.
type Format string

const (
	FormatULID Format = "ulid"
	FormatUUID Format = "uuid"
)

// Source hands out unique message IDs
type Source interface {
	NewMessageID() MessageID
}

// ============================================================================
// ULID Generator (Primary)
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by monotonic crypto entropy
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewMessageID implements Source
func (g *Generator) NewMessageID() MessageID {
	return MessageID(g.GenerateWithPrefix(MessagePrefix))
}

// ============================================================================
// UUID Source
// ============================================================================

// UUIDSource issues random v4 UUIDs
type UUIDSource struct{}

// NewMessageID implements Source
func (UUIDSource) NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// NewSource returns the source for the given format. Unknown formats fall
// back to ULID.
func NewSource(format Format) Source {
	switch Format(strings.ToLower(string(format))) {
	case FormatUUID:
		return UUIDSource{}
	default:
		return NewGenerator()
	}
}

// NewMessageID generates a message ID from the default generator
func NewMessageID() MessageID {
	return Default().NewMessageID()
}

// ============================================================================
// Validation
// ============================================================================

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsValidMessageID accepts both prefixed ULIDs and UUIDs
func IsValidMessageID(id MessageID) bool {
	s := string(id)
	if rest, ok := strings.CutPrefix(s, MessagePrefix+"_"); ok {
		return IsValid(rest)
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
