// Package schemavalidation validates MetadataEnvelope and HelperRecord JSON
// against their published JSON Schemas, for decdidctl to sanity-check
// external input (a file dropped by the watcher, a record fetched from
// external helper storage) before it ever reaches C1-C6's JSON decoders.
package schemavalidation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema
var schemaFS embed.FS

const schemaDir = "schema"

// Validator holds the compiled envelope and helper-record schemas.
type Validator struct {
	envelope     *jsonschema.Schema
	helperRecord *jsonschema.Schema
}

// New compiles both schemas once; reuse the returned Validator across calls.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	entries, err := schemaFS.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("schemavalidation: reading embedded schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(schemaDir + "/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("schemavalidation: reading %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schemavalidation: adding %s: %w", entry.Name(), err)
		}
	}

	envelope, err := compiler.Compile("metadata-envelope-v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("schemavalidation: compiling envelope schema: %w", err)
	}
	helperRecord, err := compiler.Compile("helper-record-v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("schemavalidation: compiling helper record schema: %w", err)
	}

	return &Validator{envelope: envelope, helperRecord: helperRecord}, nil
}

// ValidateEnvelope checks data (a MetadataEnvelope's canonical JSON) against
// the envelope schema.
func (v *Validator) ValidateEnvelope(data []byte) error {
	return validateAgainst(v.envelope, data)
}

// ValidateHelperRecord checks data (a single HelperRecordJSON) against the
// helper-record schema.
func (v *Validator) ValidateHelperRecord(data []byte) error {
	return validateAgainst(v.helperRecord, data)
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("schemavalidation: malformed JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schemavalidation: %w", err)
	}
	return nil
}
