package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const syncSchemaURL = "https://engagement-tracker.local/schemas/sync-request.schema.json"

// syncRequestSchema describes the body of POST /sync. Sessions are checked
// structurally; semantic checks such as key/id agreement happen after decoding.
const syncRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["trackingSessions"],
  "properties": {
    "timestamp": {"type": "integer"},
    "trackingSessions": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/session"}
    }
  },
  "$defs": {
    "device": {
      "type": "object",
      "properties": {
        "browser": {"type": "string"},
        "os": {"type": "string"},
        "formFactor": {"type": "string"}
      }
    },
    "geolocation": {
      "type": ["object", "null"],
      "properties": {
        "country": {"type": "string"},
        "region": {"type": "string"},
        "city": {"type": "string"},
        "lat": {"type": "number"},
        "lon": {"type": "number"}
      }
    },
    "open": {
      "type": "object",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "integer"},
        "ipAddress": {"type": "string"},
        "userAgent": {"type": "string"},
        "geolocation": {"$ref": "#/$defs/geolocation"},
        "device": {"$ref": "#/$defs/device"}
      }
    },
    "click": {
      "allOf": [{"$ref": "#/$defs/open"}],
      "required": ["linkId"],
      "properties": {
        "linkId": {"type": "string"},
        "originalUrl": {"type": "string"}
      }
    },
    "session": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "emailSubject": {"type": "string"},
        "recipients": {"type": ["array", "null"], "items": {"type": "string"}},
        "sentTimestamp": {"type": "integer"},
        "pixelLoads": {"type": ["array", "null"], "items": {"$ref": "#/$defs/open"}},
        "linkClicks": {"type": ["array", "null"], "items": {"$ref": "#/$defs/click"}},
        "status": {"enum": ["sent", "opened", "clicked"]}
      }
    }
  }
}`

func compileSyncSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(syncSchemaURL, strings.NewReader(syncRequestSchema)); err != nil {
		return nil, fmt.Errorf("sync schema load failed: %w", err)
	}
	compiled, err := c.Compile(syncSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("sync schema compile failed: %w", err)
	}
	return compiled, nil
}

// validateJSON decodes data generically and validates it against schema.
func validateJSON(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: trailing data")
	}
	return schema.Validate(doc)
}
