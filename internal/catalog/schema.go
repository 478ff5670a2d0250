package catalog

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Catalog layers are structurally validated before any merging so that a
// malformed layer is reported with its own path rather than surfacing as a
// resolution failure much later.
const catalogSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tool": {"type": "string", "minLength": 1},
		"variants": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["version", "checksum"],
					"properties": {
						"version": {"type": "string", "minLength": 1},
						"checksum": {"type": "string", "pattern": "^(sha256:)?[a-fA-F0-9]{64}$"},
						"format": {"enum": ["binary", "deb", "rpm"]}
					}
				}
			}
		},
		"targets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "variant"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"variant": {"type": "string", "minLength": 1},
					"community_repo": {"type": "boolean"},
					"vars": {
						"type": "object",
						"additionalProperties": {"type": "string"}
					}
				}
			}
		}
	},
	"additionalProperties": false
}`

var compiledCatalogSchema = jsonschema.MustCompileString("catalog.schema.json", catalogSchema)

func validateSchema(content []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := compiledCatalogSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return nil
}
