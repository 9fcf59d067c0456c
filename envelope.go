package streaming

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// StreamDescription declares a content stream that follows an envelope
// as separate Stream frames with the given id.
type StreamDescription struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"payloadType"`
	Length      int       `json:"length"`
}

// RequestPayload is the JSON envelope of a request.
type RequestPayload struct {
	Verb    string              `json:"verb"`
	Path    string              `json:"path"`
	Streams []StreamDescription `json:"streams"`
}

// ResponsePayload is the JSON envelope of a response.
type ResponsePayload struct {
	StatusCode int                 `json:"statusCode"`
	Streams    []StreamDescription `json:"streams"`
}

const streamsSchema = `{
	"type": ["array", "null"],
	"items": {
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {
				"type": "string",
				"pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"
			},
			"payloadType": {"type": "string"},
			"length": {"type": "integer", "minimum": 0}
		}
	}
}`

const requestSchema = `{
	"type": "object",
	"required": ["verb", "path"],
	"properties": {
		"verb": {"type": "string", "minLength": 1},
		"path": {"type": "string"},
		"streams": ` + streamsSchema + `
	}
}`

const responseSchema = `{
	"type": "object",
	"required": ["statusCode"],
	"properties": {
		"statusCode": {"type": "integer", "minimum": 0, "maximum": 999},
		"streams": ` + streamsSchema + `
	}
}`

var (
	requestEnvelopeSchema  = mustCompileSchema(requestSchema)
	responseEnvelopeSchema = mustCompileSchema(responseSchema)
)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeEnvelope validates b against schema and then decodes it into v.
func decodeEnvelope(schema *gojsonschema.Schema, b []byte, v interface{}) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return errors.Wrap(err, "envelope is not JSON")
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.Errorf("envelope failed validation: %s", strings.Join(details, "; "))
	}
	return errors.WithStack(json.Unmarshal(b, v))
}
