package hub

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema is the structural contract a replacement payload has to
// meet before the store accepts it. Collection fields must be arrays,
// configuration fields objects, and the write metadata strings.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"projects": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"areas": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"tasks": {"$ref": "#/$defs/taskList"}
							}
						}
					}
				}
			}
		},
		"ourTeam": {"type": "array"},
		"clientTeam": {"type": "array"},
		"clients": {"type": "array"},
		"tools": {"type": "array"},
		"activityLog": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"timestamp": {"type": "string"},
					"type": {"type": "string"},
					"message": {"type": "string"}
				}
			}
		},
		"timeEntries": {"type": "array"},
		"reports": {"type": "array"},
		"notifications": {"type": "array"},
		"usedProjectNumbers": {"type": "array"},
		"folderTemplate": {"type": "array"},
		"settings": {"type": "object"},
		"modules": {"type": "object"},
		"calendarFilters": {"type": "object"},
		"lastModified": {"type": "string"},
		"lastSyncedBy": {"type": "string"},
		"writeSeq": {"type": "integer", "minimum": 0},
		"writerId": {"type": "string"}
	},
	"$defs": {
		"taskList": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"wbs": {"type": "string"},
					"children": {"$ref": "#/$defs/taskList"}
				}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(documentSchema)))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("hubdocument.json", raw); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("hubdocument.json")
	})
	return schema, schemaErr
}

// ValidateDocumentJSON checks a raw replacement payload against the document
// schema. The error wraps the schema violation detail.
func ValidateDocumentJSON(payload []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
