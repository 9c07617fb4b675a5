// Package validate checks knowledge object metadata against the embedded
// JSON Schema.
package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

const schemaURL = "https://kgrid.org/schemas/shelf/metadata.schema.json"

// MetadataSchema is the JSON Schema every metadata document must satisfy.
//
//go:embed metadata.schema.json
var MetadataSchema []byte

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(MetadataSchema)); err != nil {
		return nil, fmt.Errorf("metadata schema load failed: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("metadata schema compile failed: %w", err)
	}
	return s, nil
})

// Metadata validates doc. Violations wrap core.ErrInvalidMetadata and name
// the offending fields.
func Metadata(doc core.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", core.ErrInvalidMetadata)
	}
	schema, err := compiled()
	if err != nil {
		return err
	}

	// The validator only understands plain decoded JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidMetadata, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidMetadata, err)
	}

	if err := schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", core.ErrInvalidMetadata, describe(ve))
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidMetadata, err)
	}
	return nil
}

// describe flattens the leaf causes of a validation error into one line.
func describe(ve *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
