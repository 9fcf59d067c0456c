package streaming

import (
	"context"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ContentStream is an inbound content stream declared by a request or
// response envelope. Bytes become readable as their frames arrive.
type ContentStream struct {
	ID          uuid.UUID
	ContentType string
	Length      int
	assembler   *contentStreamAssembler
}

func newContentStream(a *contentStreamAssembler) *ContentStream {
	return &ContentStream{
		ID:          a.id,
		ContentType: a.contentType,
		Length:      a.length,
		assembler:   a,
	}
}

// Stream returns the underlying Stream.
func (cs *ContentStream) Stream() *Stream {
	return cs.assembler.getStream()
}

// Read implements io.Reader.
func (cs *ContentStream) Read(p []byte) (int, error) {
	return cs.Stream().Read(p)
}

// ReadAll waits for the whole stream and returns its bytes.
func (cs *ContentStream) ReadAll(ctx context.Context) ([]byte, error) {
	return cs.Stream().ReadAll(ctx)
}

// ReadAsString waits for the whole stream and returns it as a string.
func (cs *ContentStream) ReadAsString(ctx context.Context) (string, error) {
	b, err := cs.ReadAll(ctx)
	return string(b), err
}

// ReadAsJSON waits for the whole stream and decodes it as JSON into v.
func (cs *ContentStream) ReadAsJSON(ctx context.Context, v interface{}) error {
	b, err := cs.ReadAll(ctx)
	if err == nil {
		err = errors.WithStack(json.Unmarshal(b, v))
	}
	return err
}

// ReadAsCBOR waits for the whole stream and decodes it as CBOR into v.
func (cs *ContentStream) ReadAsCBOR(ctx context.Context, v interface{}) error {
	b, err := cs.ReadAll(ctx)
	if err == nil {
		err = errors.WithStack(cbor.Unmarshal(b, v))
	}
	return err
}

// Cancel releases the stream. Unread bytes are discarded, and if the
// stream is still arriving the peer is asked to stop sending it.
func (cs *ContentStream) Cancel() {
	cs.assembler.close()
}
