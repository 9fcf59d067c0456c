package streaming

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
)

// Gateway receives incoming HTTP requests and forwards them as
// requests over a Client connection, relaying the responses back to
// the HTTP clients. A response with several content streams is
// written as multipart/mixed.
type Gateway struct {
	Client *Client
}

// NewGateway returns a new Gateway forwarding to the server at rawurl.
// The Gateway implements the http.Handler interface.
func NewGateway(rawurl string) *Gateway {
	return &Gateway{
		Client: NewClient(rawurl, nil),
	}
}

// Close closes the gateway's connection.
func (g *Gateway) Close() error {
	return g.Client.Close()
}

// gatewayBody reports when the request body has been consumed, since
// it must not be read after ServeHTTP returns.
type gatewayBody struct {
	io.ReadCloser
	once sync.Once
	done chan struct{}
}

func (gb *gatewayBody) Close() (err error) {
	gb.once.Do(func() {
		err = gb.ReadCloser.Close()
		close(gb.done)
	})
	return
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := NewRequest(r.Method, r.URL.RequestURI())
	var body *gatewayBody
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		body = &gatewayBody{ReadCloser: r.Body, done: make(chan struct{})}
		length := 0
		if r.ContentLength > 0 {
			length = int(r.ContentLength)
		}
		req.AddStream(NewContent(r.Header.Get("Content-Type"), length, body))
	}

	resp, err := g.Client.SendRequest(r.Context(), req)
	if err != nil {
		if body != nil {
			body.Close()
		}
		log := g.Client.logger()
		log.Info().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("gateway")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Cancel()
	writeGatewayResponse(w, resp)
	if body != nil {
		<-body.done
	}
}

func writeGatewayResponse(w http.ResponseWriter, resp *ReceiveResponse) {
	switch len(resp.Streams) {
	case 0:
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(resp.StatusCode)
	case 1:
		cs := resp.Streams[0]
		if cs.ContentType != "" {
			w.Header().Set("Content-Type", cs.ContentType)
		}
		if cs.Length > 0 {
			w.Header().Set("Content-Length", strconv.Itoa(cs.Length))
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, cs)
	default:
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
		w.WriteHeader(resp.StatusCode)
		for _, cs := range resp.Streams {
			h := make(textproto.MIMEHeader)
			if cs.ContentType != "" {
				h.Set("Content-Type", cs.ContentType)
			}
			part, err := mw.CreatePart(h)
			if err != nil {
				return
			}
			if _, err = io.Copy(part, cs); err != nil {
				return
			}
		}
		mw.Close()
	}
}
