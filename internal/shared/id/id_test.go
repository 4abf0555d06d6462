package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1.String(), id2.String(), "generated IDs should be unique")
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	assert.Len(t, gen.GenerateString(), 26)
}

func TestMessageIDFormats(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		check  func(t *testing.T, id MessageID)
	}{
		{
			name:   "ulid",
			format: FormatULID,
			check: func(t *testing.T, id MessageID) {
				assert.True(t, strings.HasPrefix(id.String(), MessagePrefix+"_"), id)
			},
		},
		{
			name:   "uuid",
			format: FormatUUID,
			check: func(t *testing.T, id MessageID) {
				assert.Len(t, id.String(), 36)
			},
		},
		{
			name:   "unknown falls back to ulid",
			format: Format("snowflake"),
			check: func(t *testing.T, id MessageID) {
				assert.True(t, strings.HasPrefix(id.String(), MessagePrefix+"_"), id)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewSource(tt.format).NewMessageID()
			tt.check(t, id)
			assert.True(t, IsValidMessageID(id))
		})
	}
}

func TestIsValidMessageID(t *testing.T) {
	assert.False(t, IsValidMessageID(""))
	assert.False(t, IsValidMessageID("msg_not-a-ulid"))
	assert.False(t, IsValidMessageID("hello"))
	assert.True(t, IsValidMessageID(NewMessageID()))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewGenerator().GenerateString())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("bogus")
	assert.Error(t, err)
}

func TestConcurrentMessageIDsNeverRepeat(t *testing.T) {
	const workers = 16
	const perWorker = 500

	gen := NewGenerator()
	var (
		mu   sync.Mutex
		seen = make(map[MessageID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]MessageID, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.NewMessageID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()
	prev := gen.GenerateString()
	for i := 0; i < 1000; i++ {
		next := gen.GenerateString()
		require.Greater(t, next, prev)
		prev = next
	}
}
