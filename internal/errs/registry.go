// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package errs maps error kinds to human-readable metadata.
//
// Every component declares the kinds it can raise and registers them once at
// its own initialization time. Error values themselves are oops errors whose
// code equals the kind code, so any error can be described by looking its
// code up in the registry.
package errs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Error codes raised by the registry itself.
const (
	CodeKindConflict = "ERROR_KIND_CONFLICT"
	CodeKindInvalid  = "ERROR_KIND_INVALID"
	CodeUnknown      = "UNKNOWN"
)

// Kind describes one category of error.
type Kind struct {
	// Code is the identifier carried by oops errors of this kind.
	Code string `json:"code"`
	// Description is the human-readable meaning.
	Description string `json:"description"`
	// Payload is an optional prototype value describing the structured
	// context attached to errors of this kind.
	Payload any `json:"-"`
}

// Errorf builds an error of this kind.
func (k Kind) Errorf(format string, args ...any) error {
	return oops.Code(k.Code).Errorf(format, args...)
}

// Builder returns an oops builder preset with the kind code.
func (k Kind) Builder() oops.OopsErrorBuilder {
	return oops.Code(k.Code)
}

// Is reports whether err carries this kind's code.
func (k Kind) Is(err error) bool {
	return CodeOf(err) == k.Code
}

// Kinds returns the kinds raised by the registry itself.
func Kinds() []Kind {
	return []Kind{
		{Code: CodeKindConflict, Description: "an error code is already registered with a different description"},
		{Code: CodeKindInvalid, Description: "an error kind has a malformed code or payload prototype"},
	}
}

var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

type entry struct {
	kind   Kind
	schema *jschema.Schema
}

// Registry maps kind codes to kinds. It is safe for concurrent use.
type Registry struct {
	kinds map[string]entry
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]entry)}
}

// Register adds a kind. Registering an identical kind again is a no-op;
// registering a code that is already bound to a different description fails
// with ERROR_KIND_CONFLICT.
func (r *Registry) Register(k Kind) error {
	if !codePattern.MatchString(k.Code) {
		return oops.Code(CodeKindInvalid).
			With("code", k.Code).
			Errorf("kind code %q must be upper snake case", k.Code)
	}

	var sch *jschema.Schema
	if k.Payload != nil {
		compiled, err := compilePayloadSchema(k)
		if err != nil {
			return oops.Code(CodeKindInvalid).With("code", k.Code).Wrap(err)
		}
		sch = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.kinds[k.Code]; ok {
		if existing.kind.Description != k.Description {
			return oops.Code(CodeKindConflict).
				With("code", k.Code).
				With("registered", existing.kind.Description).
				With("requested", k.Description).
				Errorf("error kind %s already registered with a different description", k.Code)
		}
		return nil
	}

	r.kinds[k.Code] = entry{kind: k, schema: sch}
	return nil
}

// RegisterAll registers every kind, stopping at the first failure.
func (r *Registry) RegisterAll(kinds ...Kind) error {
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the kind for code. Unregistered codes yield an "unknown"
// kind and false rather than an error.
func (r *Registry) Lookup(code string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.kinds[code]; ok {
		return e.kind, true
	}
	return unknown(code), false
}

// Describe returns the kind of err, based on its oops code.
func (r *Registry) Describe(err error) (Kind, bool) {
	code := CodeOf(err)
	if code == "" {
		return unknown(CodeUnknown), false
	}
	return r.Lookup(code)
}

// Kinds returns all registered kinds sorted by code.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.kinds))
	for _, e := range r.kinds {
		out = append(out, e.kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ValidatePayload checks payload against the schema reflected from the
// kind's Payload prototype. Kinds without a prototype accept anything.
func (r *Registry) ValidatePayload(code string, payload any) error {
	r.mu.RLock()
	e, ok := r.kinds[code]
	r.mu.RUnlock()

	if !ok {
		return oops.Code(CodeKindInvalid).With("code", code).Errorf("error kind %s is not registered", code)
	}
	if e.schema == nil {
		return nil
	}

	// Round-trip through JSON so the validator sees plain maps and slices.
	raw, err := json.Marshal(payload)
	if err != nil {
		return oops.Code(CodeKindInvalid).With("code", code).Wrap(err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return oops.Code(CodeKindInvalid).With("code", code).Wrap(err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return oops.Code(CodeKindInvalid).With("code", code).Wrapf(err, "payload does not match schema")
	}
	return nil
}

// Schema returns the JSON schema for the kind's payload, or nil if the kind
// has no payload prototype.
func (r *Registry) Schema(code string) ([]byte, error) {
	k, ok := r.Lookup(code)
	if !ok || k.Payload == nil {
		return nil, nil
	}
	return reflectSchema(k)
}

// CodeOf extracts the oops code from err, or "" if err carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

func unknown(code string) Kind {
	return Kind{Code: code, Description: "unknown error kind"}
}

func reflectSchema(k Kind) ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(k.Payload)
	schema.Title = k.Code
	schema.Description = k.Description

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", k.Code, err)
	}
	return data, nil
}

func compilePayloadSchema(k Kind) (*jschema.Schema, error) {
	data, err := reflectSchema(k)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", k.Code, err)
	}

	c := jschema.NewCompiler()
	url := "kind://" + k.Code + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", k.Code, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", k.Code, err)
	}
	return sch, nil
}
