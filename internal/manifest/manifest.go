package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
)

// Format identifies a manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// AllURLs matches every page.
const AllURLs = "<all_urls>"

var (
	ErrNoScripts     = errors.New("manifest: no content scripts")
	ErrUnknownFormat = errors.New("manifest: unknown format")
)

// Manifest describes an extension: its bridge id and the content scripts
// injected into each world of a matching page.
type Manifest struct {
	Name           string          `json:"name" yaml:"name" toml:"name"`
	Version        string          `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	BridgeID       string          `json:"bridge_id" yaml:"bridge_id" toml:"bridge_id"`
	Proxies        *bool           `json:"proxies,omitempty" yaml:"proxies,omitempty" toml:"proxies,omitempty"`
	ContentScripts []ContentScript `json:"content_scripts" yaml:"content_scripts" toml:"content_scripts"`

	dir string
}

// ContentScript assigns a set of script files to a world. JS entries are
// doublestar patterns relative to the manifest directory.
type ContentScript struct {
	Matches []string `json:"matches,omitempty" yaml:"matches,omitempty" toml:"matches,omitempty"`
	World   string   `json:"world,omitempty" yaml:"world,omitempty" toml:"world,omitempty"`
	JS      []string `json:"js" yaml:"js" toml:"js"`
}

// Script is one resolved content script ready to load.
type Script struct {
	Name   string
	World  bridge.Domain
	Source string
}

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads and validates the manifest at path. Script patterns resolve
// against the manifest's directory.
func Load(path string) (*Manifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates a manifest. The result resolves script
// patterns against the working directory until SetDir is called.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatJSON:
		err = sonic.Unmarshal(data, &m)
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatTOML:
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s parse error: %w", format, err)
	}
	m.dir = "."
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetDir sets the directory script patterns resolve against.
func (m *Manifest) SetDir(dir string) { m.dir = dir }

// Dir returns the directory script patterns resolve against.
func (m *Manifest) Dir() string { return m.dir }

// Validate fills defaults and checks worlds and patterns.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.BridgeID) == "" {
		return errors.New("manifest: bridge_id required")
	}
	if len(m.ContentScripts) == 0 {
		return ErrNoScripts
	}
	for i := range m.ContentScripts {
		cs := &m.ContentScripts[i]
		if cs.World == "" {
			cs.World = bridge.Isolated.String()
		}
		world, err := bridge.ParseDomain(cs.World)
		if err != nil {
			return fmt.Errorf("manifest: content_scripts[%d]: %w", i, err)
		}
		cs.World = world.String()
		if len(cs.JS) == 0 {
			return fmt.Errorf("manifest: content_scripts[%d]: js required", i)
		}
		for _, pattern := range cs.JS {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("manifest: content_scripts[%d]: bad pattern %q", i, pattern)
			}
		}
		for _, match := range cs.Matches {
			if match != AllURLs && !doublestar.ValidatePattern(match) {
				return fmt.Errorf("manifest: content_scripts[%d]: bad match %q", i, match)
			}
		}
	}
	return nil
}

// ProxiesEnabled reports the manifest's proxy setting, or def when unset.
func (m *Manifest) ProxiesEnabled(def bool) bool {
	if m.Proxies == nil {
		return def
	}
	return *m.Proxies
}

// Scripts resolves every content script regardless of page URL.
func (m *Manifest) Scripts() ([]Script, error) {
	return m.resolve(func(ContentScript) bool { return true })
}

// ScriptsFor resolves the content scripts whose matches cover url. A
// script without matches runs everywhere.
func (m *Manifest) ScriptsFor(url string) ([]Script, error) {
	return m.resolve(func(cs ContentScript) bool { return cs.Covers(url) })
}

// Covers reports whether the script applies to url. "**" spans path
// segments; "*" stays within one.
func (cs ContentScript) Covers(url string) bool {
	if len(cs.Matches) == 0 {
		return true
	}
	for _, pattern := range cs.Matches {
		if pattern == AllURLs {
			return true
		}
		if ok, _ := doublestar.Match(pattern, url); ok {
			return true
		}
	}
	return false
}

func (m *Manifest) resolve(include func(ContentScript) bool) ([]Script, error) {
	fsys := os.DirFS(m.dir)
	seen := make(map[string]bool)

	var scripts []Script
	for _, cs := range m.ContentScripts {
		if !include(cs) {
			continue
		}
		world := bridge.Domain(cs.World)
		for _, pattern := range cs.JS {
			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("glob %q: %w", pattern, fs.ErrNotExist)
			}
			sort.Strings(matches)

			for _, name := range matches {
				key := cs.World + "\x00" + name
				if seen[key] {
					continue
				}
				seen[key] = true

				src, err := fs.ReadFile(fsys, name)
				if err != nil {
					return nil, fmt.Errorf("read script: %w", err)
				}
				scripts = append(scripts, Script{Name: name, World: world, Source: string(src)})
			}
		}
	}
	return scripts, nil
}

// ByWorld groups scripts by world, preserving order.
func ByWorld(scripts []Script) map[bridge.Domain][]Script {
	out := make(map[bridge.Domain][]Script, 2)
	for _, s := range scripts {
		out[s.World] = append(out[s.World], s)
	}
	return out
}
