// Package manifest handles stck.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project manifest.
const FileName = "stck.toml"

// Manifest represents a stck.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Build        Build                 `toml:"build"`
	Include      Include               `toml:"include"`
	Log          Log                   `toml:"log"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the stck.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Build configures compilation.
type Build struct {
	Entry  string `toml:"entry"`
	Output string `toml:"output"`
	// Debug also writes a .stdbg file next to the output.
	Debug bool `toml:"debug"`
	// Unsafe skips type checking.
	Unsafe bool `toml:"unsafe"`
}

// Include configures library lookup.
type Include struct {
	// Paths are library roots searched by `include`, in order.
	Paths []string `toml:"paths"`
	// Prelude is a library included before the entry file. Empty
	// disables it.
	Prelude string `toml:"prelude"`
}

// Log configures logging defaults. Command line flags take precedence.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Dependency is a library fetched into the project. Its root (or its own
// include paths, if it has a manifest) is added to the library roots.
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Load parses a stck.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Include.Paths) == 0 {
		m.Include.Paths = []string{"lib"}
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a stck.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// IncludePaths returns absolute paths for the configured library roots.
func (m *Manifest) IncludePaths() []string {
	var paths []string
	for _, p := range m.Include.Paths {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// EntryPath returns the absolute path of the build entry, or "" if none
// is configured.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Build.Entry)
}

// OutputPath returns the absolute bytecode output path. Without an
// explicit output it is the entry with a .stbin extension.
func (m *Manifest) OutputPath() string {
	if m.Build.Output != "" {
		return m.resolve(m.Build.Output)
	}
	entry := m.EntryPath()
	if entry == "" {
		return ""
	}
	return strings.TrimSuffix(entry, filepath.Ext(entry)) + ".stbin"
}

// LogFile returns the absolute log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

// DepsDir returns the path to the .stck/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".stck", "deps")
}

// LockFilePath returns the path to .stck/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".stck", "lock.toml")
}
