package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// payloadDisassembler turns one outbound logical unit into frames.
type payloadDisassembler interface {
	disassemble(ctx context.Context, ps *payloadSender) error
}

// envelopeDisassembler sends a JSON envelope. Envelopes normally fit in
// one frame; larger ones are split at MaxLength.
type envelopeDisassembler struct {
	payloadType PayloadType
	id          uuid.UUID
	payload     interface{}
}

func (ed *envelopeDisassembler) disassemble(ctx context.Context, ps *payloadSender) error {
	b, err := json.Marshal(ed.payload)
	if err != nil {
		return errors.WithStack(err)
	}
	for {
		chunk := b
		if len(chunk) > MaxLength {
			chunk = chunk[:MaxLength]
		}
		b = b[len(chunk):]
		h, err := NewHeader(ed.payloadType, len(chunk), ed.id, len(b) == 0)
		if err != nil {
			return err
		}
		if err = ps.send(ctx, &sendPacket{header: h, payload: bytes.NewReader(chunk)}); err != nil {
			return err
		}
		if len(b) == 0 {
			return nil
		}
	}
}

// contentDisassembler streams a Content body as Stream frames of at
// most MaxPayloadLength bytes. Whatever one Read returns is sent at
// once, so slow bodies are delivered as they are produced. End is set
// on the frame carrying the last bytes, or on an empty trailing frame.
// Each frame is queued only after the previous one is written, so
// frames of other ids interleave with it. Closing cancel closes the
// body and ends the stream with an empty frame.
type contentDisassembler struct {
	id      uuid.UUID
	content *Content
	cancel  <-chan struct{}
}

func (cd *contentDisassembler) disassemble(ctx context.Context, ps *payloadSender) error {
	var body io.Reader = eofReader{}
	if cd.content != nil && cd.content.Body != nil {
		body = cd.content.Body
	}
	if closer, ok := body.(io.Closer); ok {
		var once sync.Once
		closeBody := func() { once.Do(func() { closer.Close() }) }
		defer closeBody()
		if cd.cancel != nil {
			// a blocked Read only returns once the body is closed
			stopCh := make(chan struct{})
			defer close(stopCh)
			go func() {
				select {
				case <-cd.cancel:
					closeBody()
				case <-stopCh:
				}
			}()
		}
	}

	buf := chunkAlloc()
	for {
		var n int
		var rerr error
		if !cd.cancelled() {
			n, rerr = body.Read(buf)
		}
		stopped := cd.cancelled()
		if stopped {
			n = 0
		}
		last := stopped || rerr != nil
		if n == 0 && !last {
			continue
		}
		h, err := NewHeader(PayloadTypeStream, n, cd.id, last)
		if err != nil {
			return err
		}
		if err = ps.sendWait(ctx, h, buf[:n]); err != nil {
			// buf is not reused, the writer may still be reading it
			return err
		}
		if last {
			chunkFree(buf)
			if stopped || rerr == io.EOF {
				return nil
			}
			return errors.Wrapf(rerr, "reading content %v", cd.id)
		}
	}
}

func (cd *contentDisassembler) cancelled() bool {
	select {
	case <-cd.cancel:
		return true
	default:
		return false
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
