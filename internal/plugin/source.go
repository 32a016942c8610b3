// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Candidate is one discovered plugin unit.
type Candidate struct {
	// Ref locates the candidate: its directory, or "builtin:<name>".
	Ref string
	// Manifest is nil when Err is set before the manifest could be parsed.
	Manifest *Manifest
	// Dir is the plugin directory; empty for builtins.
	Dir string
	// Factory constructs builtin plugins; nil for other types.
	Factory Factory
	// Err records a discovery-time import failure.
	Err error
}

// Name returns the manifest name, falling back to Ref.
func (c Candidate) Name() string {
	if c.Manifest != nil && c.Manifest.Name != "" {
		return c.Manifest.Name
	}
	return c.Ref
}

// Source enumerates plugin candidates.
type Source interface {
	// Candidates lists every candidate in a deterministic order. An error
	// means the source itself could not be enumerated.
	Candidates(ctx context.Context) ([]Candidate, error)
	// String describes the source for logs.
	String() string
}

// DirSource discovers plugins in the subdirectories of a root directory.
// Every subdirectory holding a plugin.yaml is a candidate.
type DirSource struct {
	root string
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Root returns the directory scanned.
func (s *DirSource) Root() string { return s.root }

func (s *DirSource) String() string { return "dir:" + s.root }

// Candidates reads every subdirectory manifest. A missing root yields no
// candidates; unreadable or invalid manifests become failed candidates.
func (s *DirSource) Candidates(ctx context.Context) ([]Candidate, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.Code(KindImportError.Code).
			With("dir", s.root).
			Wrapf(err, "read plugins directory")
	}

	var out []Candidate
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, oops.Wrap(err)
		}
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(s.root, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			out = append(out, Candidate{Ref: dir, Dir: dir, Err: errImport(entry.Name(), err)})
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			out = append(out, Candidate{Ref: dir, Dir: dir, Err: oops.With("plugin", entry.Name()).With("dir", dir).Wrap(err)})
			continue
		}
		out = append(out, Candidate{Ref: dir, Dir: dir, Manifest: manifest})
	}
	return out, nil
}

// Catalog is an in-memory collection of builtin plugins, populated by code
// linked into the binary.
type Catalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]catalogEntry
}

type catalogEntry struct {
	manifest Manifest
	factory  Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]catalogEntry)}
}

// DefaultCatalog is the collection used when no plugin directory is
// configured.
var DefaultCatalog = NewCatalog()

// Register adds a builtin. The manifest type is forced to builtin.
func (c *Catalog) Register(manifest Manifest, factory Factory) error {
	manifest.Type = TypeBuiltin
	if err := manifest.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return errImportf(manifest.Name, "builtin %s has no factory", manifest.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]catalogEntry)
	}
	if _, ok := c.entries[manifest.Name]; ok {
		return errImportf(manifest.Name, "builtin %s registered twice", manifest.Name)
	}
	c.entries[manifest.Name] = catalogEntry{manifest: manifest, factory: factory}
	c.order = append(c.order, manifest.Name)
	return nil
}

// MustRegister is Register for package init functions.
func (c *Catalog) MustRegister(manifest Manifest, factory Factory) {
	if err := c.Register(manifest, factory); err != nil {
		panic(err)
	}
}

// Names lists builtins sorted by name.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]string(nil), c.order...)
	sort.Strings(out)
	return out
}

func (c *Catalog) String() string { return "catalog" }

// Candidates returns builtins in registration order.
func (c *Catalog) Candidates(_ context.Context) ([]Candidate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Candidate, 0, len(c.order))
	for _, name := range c.order {
		e := c.entries[name]
		m := e.manifest
		out = append(out, Candidate{Ref: "builtin:" + name, Manifest: &m, Factory: e.factory})
	}
	return out, nil
}

// ResolvePath joins rel onto a plugin directory. Absolute paths and paths
// that leave dir are rejected.
func ResolvePath(dir, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", oops.With("path", rel).Errorf("path must be relative to the plugin directory")
	}
	path := filepath.Join(dir, rel)
	back, err := filepath.Rel(dir, path)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", oops.With("path", rel).Errorf("path escapes the plugin directory")
	}
	return path, nil
}
