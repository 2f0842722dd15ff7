package stream

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const definitionsSchema = `
    "vec3": {
      "oneOf": [
        {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
        {
          "type": "object",
          "required": ["x", "y", "z"],
          "properties": {
            "x": {"type": "number"},
            "y": {"type": "number"},
            "z": {"type": "number"}
          }
        }
      ]
    },
    "bounds": {
      "type": "object",
      "required": ["min", "max"],
      "properties": {
        "min": {"$ref": "#/$defs/vec3"},
        "max": {"$ref": "#/$defs/vec3"}
      }
    }`

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["totalRecords", "chunkCount", "overallBounds", "chunks"],
  "properties": {
    "totalRecords": {"type": "integer", "minimum": 0},
    "chunkCount": {"type": "integer", "minimum": 0},
    "overallBounds": {"$ref": "#/$defs/bounds"},
    "targetChunkSizeBytes": {"type": "number", "minimum": 0},
    "chunks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["identifier", "recordCount", "bounds", "priority", "byteSize"],
        "properties": {
          "identifier": {"type": "string", "minLength": 1},
          "recordCount": {"type": "integer", "minimum": 0},
          "bounds": {"$ref": "#/$defs/bounds"},
          "priority": {"type": "integer"},
          "byteSize": {"type": "integer", "minimum": 0}
        }
      }
    }
  },
  "$defs": {` + definitionsSchema + `
  }
}`

const legacySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["total_vertices", "chunk_count", "overall_bounding_box", "chunks"],
  "properties": {
    "original_file": {"type": "string"},
    "total_vertices": {"type": "integer", "minimum": 0},
    "chunk_count": {"type": "integer", "minimum": 0},
    "overall_bounding_box": {"$ref": "#/$defs/bounds"},
    "target_chunk_size_mb": {"type": "number", "minimum": 0},
    "chunks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["filename", "vertex_count", "bounding_box", "priority", "file_size_bytes"],
        "properties": {
          "filename": {"type": "string", "minLength": 1},
          "vertex_count": {"type": "integer", "minimum": 0},
          "bounding_box": {"$ref": "#/$defs/bounds"},
          "priority": {"type": "integer"},
          "file_size_bytes": {"type": "integer", "minimum": 0}
        }
      }
    }
  },
  "$defs": {` + definitionsSchema + `
  }
}`

var (
	manifestSchema = sync.OnceValue(func() *jsonschema.Schema {
		return jsonschema.MustCompileString("manifest.schema.json", manifestSchemaJSON)
	})
	legacySchema = sync.OnceValue(func() *jsonschema.Schema {
		return jsonschema.MustCompileString("legacy-manifest.schema.json", legacySchemaJSON)
	})
)
