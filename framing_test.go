package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedCall struct {
	h       Header
	written int64
	last    bool
}

type recordingSink struct {
	mu       sync.Mutex
	streams  map[uuid.UUID]*Stream
	received []receivedCall
	failed   []uuid.UUID
}

func newRecordingSink() *recordingSink {
	return &recordingSink{streams: make(map[uuid.UUID]*Stream)}
}

func (rs *recordingSink) frameStream(h Header) *Stream {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	s := rs.streams[h.ID]
	if s == nil {
		s = NewStream()
		rs.streams[h.ID] = s
	}
	return s
}

func (rs *recordingSink) frameReceived(h Header, s *Stream, last bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.received = append(rs.received, receivedCall{h: h, written: s.Written(), last: last})
}

func (rs *recordingSink) frameFailed(id uuid.UUID, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failed = append(rs.failed, id)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func writeFrame(t *testing.T, w io.Writer, pt PayloadType, id uuid.UUID, end bool, payload []byte) {
	h, err := NewHeader(pt, len(payload), id, end)
	require.NoError(t, err)
	w.Write(h.AppendTo(nil))
	w.Write(payload)
}

// sendContent disassembles data and returns what the sender wrote.
func sendContent(t *testing.T, id uuid.UUID, data []byte) []byte {
	var buf bytes.Buffer
	ps := newPayloadSender(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(&buf)
	}()
	cd := &contentDisassembler{id: id, content: NewBytesContent("", data)}
	require.NoError(t, cd.disassemble(context.Background(), ps))
	ps.stop()
	<-done
	return buf.Bytes()
}

func Test_ContentDisassembler_Chunking(t *testing.T) {
	defer leaktest.Check(t)()
	for _, length := range []int{0, 1, MaxPayloadLength - 1, MaxPayloadLength, MaxPayloadLength + 1, 2 * MaxPayloadLength, 3*MaxPayloadLength + 17} {
		id := uuid.New()
		data := randomBytes(length)
		wire := sendContent(t, id, data)

		var frames []Header
		var got []byte
		for len(wire) > 0 {
			require.True(t, len(wire) >= MaxHeaderLength)
			h, err := ParseHeader(wire[:MaxHeaderLength])
			require.NoError(t, err)
			wire = wire[MaxHeaderLength:]
			assert.Equal(t, PayloadTypeStream, h.PayloadType)
			assert.Equal(t, id, h.ID)
			assert.True(t, h.PayloadLength <= MaxPayloadLength)
			got = append(got, wire[:h.PayloadLength]...)
			wire = wire[h.PayloadLength:]
			frames = append(frames, h)
		}

		// the reader reports EOF on its own, after the data
		expectFrames := (length+MaxPayloadLength-1)/MaxPayloadLength + 1
		assert.Equal(t, expectFrames, len(frames), "length %d", length)
		for i, h := range frames {
			assert.Equal(t, i == len(frames)-1, h.End, "length %d frame %d", length, i)
		}
		assert.Equal(t, 0, frames[len(frames)-1].PayloadLength)
		assert.True(t, bytes.Equal(data, got), "length %d", length)
	}
}

func Test_ContentDisassembler_Cancel(t *testing.T) {
	defer leaktest.Check(t)()
	var buf bytes.Buffer
	ps := newPayloadSender(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(&buf)
	}()
	cancel := make(chan struct{})
	close(cancel)
	cd := &contentDisassembler{id: testID, content: NewBytesContent("", randomBytes(10000)), cancel: cancel}
	require.NoError(t, cd.disassemble(context.Background(), ps))
	ps.stop()
	<-done

	assert.Equal(t, MaxHeaderLength, buf.Len())
	h, err := ParseHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, h.PayloadLength)
	assert.True(t, h.End)
}

type eofWithDataReader struct {
	data []byte
}

func (r *eofWithDataReader) Read(p []byte) (int, error) {
	n := copy(p, r.data)
	r.data = r.data[n:]
	if len(r.data) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func Test_ContentDisassembler_EndWithData(t *testing.T) {
	defer leaktest.Check(t)()
	var buf bytes.Buffer
	ps := newPayloadSender(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(&buf)
	}()
	cd := &contentDisassembler{id: testID, content: NewContent("", 5, &eofWithDataReader{data: []byte("hello")})}
	require.NoError(t, cd.disassemble(context.Background(), ps))
	ps.stop()
	<-done

	h, err := ParseHeader(buf.Bytes()[:MaxHeaderLength])
	require.NoError(t, err)
	assert.True(t, h.End)
	assert.Equal(t, 5, h.PayloadLength)
	assert.Equal(t, MaxHeaderLength+5, buf.Len())
}

func Test_ContentDisassembler_SendsPartialReads(t *testing.T) {
	defer leaktest.Check(t)()
	pr, pw := io.Pipe()
	ps := newPayloadSender(0)
	frames := make(chan Header, 4)
	ps.onFrame = func(h Header) { frames <- h }
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(io.Discard)
	}()
	cd := &contentDisassembler{id: testID, content: NewContent("", 0, pr)}
	errCh := make(chan error, 1)
	go func() { errCh <- cd.disassemble(context.Background(), ps) }()

	_, err := pw.Write([]byte("tick\n"))
	require.NoError(t, err)
	select {
	case h := <-frames:
		assert.Equal(t, 5, h.PayloadLength)
		assert.False(t, h.End)
	case <-time.After(5 * time.Second):
		t.Fatal("partial read was held back")
	}

	pw.Close()
	assert.True(t, (<-frames).End)
	require.NoError(t, <-errCh)
	ps.stop()
	<-done
}

func Test_EnvelopeDisassembler(t *testing.T) {
	defer leaktest.Check(t)()
	var buf bytes.Buffer
	ps := newPayloadSender(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(&buf)
	}()
	payload, _ := NewRequest("GET", "/api/messages").payload()
	ed := &envelopeDisassembler{payloadType: PayloadTypeRequest, id: testID, payload: payload}
	require.NoError(t, ed.disassemble(context.Background(), ps))
	require.NoError(t, ps.sendWait(context.Background(), Header{PayloadType: PayloadTypeCancelAll, End: true}, nil))
	ps.stop()
	<-done

	b := buf.Bytes()
	h, err := ParseHeader(b[:MaxHeaderLength])
	require.NoError(t, err)
	assert.Equal(t, PayloadTypeRequest, h.PayloadType)
	assert.True(t, h.End)
	assert.JSONEq(t, `{"verb":"GET","path":"/api/messages","streams":[]}`, string(b[MaxHeaderLength:MaxHeaderLength+h.PayloadLength]))
}

func Test_Envelope_AlwaysCarriesFields(t *testing.T) {
	resp := NewResponse(204, NewContent("", 0, nil))
	payload, contents := resp.payload()
	require.Equal(t, 1, len(contents))
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":204,"streams":[{"id":"`+contents[0].id.String()+`","payloadType":"","length":0}]}`, string(b))

	payload, _ = NewResponse(200).payload()
	b, err = json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":200,"streams":[]}`, string(b))
}

type failingDeadliner struct{}

func (failingDeadliner) SetWriteDeadline(time.Time) error { return errors.New("deadline not supported") }

func Test_Sender_WriteDeadlineError(t *testing.T) {
	defer leaktest.Check(t)()
	var logBuf bytes.Buffer
	ps := newPayloadSender(0)
	ps.deadliner = failingDeadliner{}
	ps.writeTimeout = time.Second
	ps.log = zerolog.New(&logBuf).Level(zerolog.DebugLevel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ps.run(io.Discard)
	}()
	require.NoError(t, ps.sendWait(context.Background(), Header{PayloadType: PayloadTypeCancelAll, End: true}, nil))
	ps.stop()
	<-done
	assert.Contains(t, logBuf.String(), "deadline not supported")
}

func Test_Sender_ShortPayload(t *testing.T) {
	defer leaktest.Check(t)()
	ps := newPayloadSender(0)
	errCh := make(chan error, 1)
	go func() {
		_, err := ps.run(io.Discard)
		errCh <- err
	}()
	h := Header{PayloadType: PayloadTypeStream, PayloadLength: 10, ID: testID}
	err := ps.sendWait(context.Background(), h, []byte("short"))
	assert.Error(t, err)
	assert.Error(t, <-errCh)
	assert.Error(t, ps.send(context.Background(), &sendPacket{header: h}))
}

func Test_Receiver_ProgressiveDelivery(t *testing.T) {
	var wire bytes.Buffer
	streamID := uuid.New()
	requestID := uuid.New()
	writeFrame(t, &wire, PayloadTypeStream, streamID, false, randomBytes(10000))
	writeFrame(t, &wire, PayloadTypeRequest, requestID, true, randomBytes(10000))
	writeFrame(t, &wire, PayloadTypeStream, streamID, true, nil)

	sink := newRecordingSink()
	pr := newPayloadReceiver(sink)
	n, err := pr.run(&wire)
	assert.Equal(t, io.EOF, errors.Cause(err))
	assert.Equal(t, int64(3*MaxHeaderLength+20000), n)

	require.Equal(t, 5, len(sink.received))
	expect := []receivedCall{
		{h: Header{PayloadTypeStream, 10000, streamID, false}, written: 4096, last: false},
		{h: Header{PayloadTypeStream, 10000, streamID, false}, written: 8192, last: false},
		{h: Header{PayloadTypeStream, 10000, streamID, false}, written: 10000, last: true},
		{h: Header{PayloadTypeRequest, 10000, requestID, true}, written: 10000, last: true},
		{h: Header{PayloadTypeStream, 0, streamID, true}, written: 10000, last: true},
	}
	assert.Equal(t, expect, sink.received)
}

func Test_Receiver_MalformedHeader(t *testing.T) {
	var wire bytes.Buffer
	badID := uuid.New()
	goodID := uuid.New()
	bad := Header{PayloadTypeStream, 5, badID, true}.AppendTo(nil)
	bad[0] = 'Z'
	wire.Write(bad)
	wire.WriteString("12345")
	writeFrame(t, &wire, PayloadTypeStream, goodID, true, []byte("ok"))
	wire.WriteString("S.00x000.not-a-header-at-all-and-not-a-uuid!!.1\n")

	sink := newRecordingSink()
	_, err := newPayloadReceiver(sink).run(&wire)
	var he *HeaderError
	assert.True(t, errors.As(err, &he))
	assert.Equal(t, []uuid.UUID{badID}, sink.failed)
	require.Equal(t, 1, len(sink.received))
	assert.Equal(t, goodID, sink.received[0].h.ID)
	assert.Equal(t, int64(2), sink.received[0].written)
}
