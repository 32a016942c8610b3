// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package capability decides which events a plugin may hook.
//
// Grants are event-id patterns compiled with gobwas/glob using '.' as the
// segment separator:
//   - '*' matches a single segment: "leaf.*" matches "leaf.exit" but not
//     "leaf.pool.drained"
//   - '**' matches any number of segments: "plugin.echo.**" matches every
//     event under "plugin.echo"
//   - "**" alone grants every event
package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
)

// CodeInvalidGrant is raised for an unusable grant pattern.
const CodeInvalidGrant = "CAPABILITY_INVALID_GRANT"

// Kinds returns the capability error kinds.
func Kinds() []errs.Kind {
	return []errs.Kind{
		{Code: CodeInvalidGrant, Description: "plugin grant pattern is empty or malformed"},
	}
}

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds per-plugin event grants.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]grant
	mu     sync.RWMutex
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// Compile checks a single pattern.
func Compile(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, oops.Code(CodeInvalidGrant).Errorf("empty event pattern")
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.Code(CodeInvalidGrant).With("pattern", pattern).Wrap(err)
	}
	return g, nil
}

// Grant replaces the event patterns a plugin may hook. Either every pattern
// compiles and the grants are replaced, or nothing changes.
func (e *Enforcer) Grant(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.Code(CodeInvalidGrant).Errorf("plugin name cannot be empty")
	}

	compiled := make([]grant, 0, len(patterns))
	for _, p := range patterns {
		g, err := Compile(p)
		if err != nil {
			return oops.With("plugin", plugin).Wrap(err)
		}
		compiled = append(compiled, grant{pattern: p, glob: g})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[plugin] = compiled
	return nil
}

// Revoke removes every grant of plugin.
func (e *Enforcer) Revoke(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Patterns returns a copy of plugin's grant patterns, nil if unknown.
func (e *Enforcer) Patterns(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.pattern
	}
	return out
}

// Plugins lists plugins with grants, sorted.
func (e *Enforcer) Plugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.grants))
	for name := range e.grants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CanHook reports whether plugin may hook eventID. Unknown plugins and
// empty ids are denied.
func (e *Enforcer) CanHook(plugin, eventID string) bool {
	if eventID == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[plugin] {
		if g.glob.Match(eventID) {
			return true
		}
	}
	return false
}
