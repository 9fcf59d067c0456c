package streaming

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

const (
	// ContentTypeText is used by NewStringContent.
	ContentTypeText = "text/plain; charset=utf-8"
	// ContentTypeJSON is used by NewJSONContent.
	ContentTypeJSON = "application/json; charset=utf-8"
	// ContentTypeCBOR is used by NewCBORContent.
	ContentTypeCBOR = "application/cbor"
	// ContentTypeBinary is used when no content type is given.
	ContentTypeBinary = "application/octet-stream"
)

// Content is one outbound content stream of a Request or Response.
// Body is read once, while the content is being sent, and is never
// buffered in full. Length is advisory; zero means empty or unknown.
type Content struct {
	ContentType string
	Length      int
	Body        io.Reader
}

// NewContent returns a Content reading from body.
func NewContent(contentType string, length int, body io.Reader) *Content {
	if contentType == "" {
		contentType = ContentTypeBinary
	}
	return &Content{ContentType: contentType, Length: length, Body: body}
}

// NewBytesContent returns a Content holding b.
func NewBytesContent(contentType string, b []byte) *Content {
	return NewContent(contentType, len(b), bytes.NewReader(b))
}

// NewStringContent returns a text Content holding s.
func NewStringContent(s string) *Content {
	return NewContent(ContentTypeText, len(s), strings.NewReader(s))
}

// NewJSONContent returns a Content holding the JSON encoding of v.
func NewJSONContent(v interface{}) (*Content, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewBytesContent(ContentTypeJSON, b), nil
}

// NewCBORContent returns a Content holding the CBOR encoding of v.
func NewCBORContent(v interface{}) (*Content, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewBytesContent(ContentTypeCBOR, b), nil
}
