// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema.
const SchemaID = "https://leafkit.dev/schemas/plugin.schema.json"

var (
	schemaOnce sync.Once
	schemaErr  error
	compiled   *jschema.Schema
)

// GenerateSchema reflects the JSON Schema of Manifest.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Leaf Plugin Manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshal manifest schema")
	}
	return data, nil
}

// ValidateSchema checks YAML manifest data against the manifest schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code(KindImportError.Code).Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code(KindImportError.Code).Wrapf(err, "invalid YAML")
	}

	sch, err := manifestSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(toJSON(doc)); err != nil {
		return oops.Code(KindImportError.Code).Wrapf(err, "manifest does not match schema")
	}
	return nil
}

func manifestSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			schemaErr = oops.Wrapf(err, "parse manifest schema")
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			schemaErr = oops.Wrapf(err, "add manifest schema")
			return
		}
		compiled, schemaErr = c.Compile(SchemaID)
		if schemaErr != nil {
			schemaErr = oops.Wrapf(schemaErr, "compile manifest schema")
		}
	})
	return compiled, schemaErr
}

// toJSON converts yaml.v3 output into the value shapes the validator
// expects, using a JSON round-trip for anything unusual (timestamps, ints).
func toJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSON(item)
		}
		return out
	case string, bool, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			return val
		}
		return doc
	}
}
