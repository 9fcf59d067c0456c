// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HeaderError reports a frame header that could not be decoded or encoded.
type HeaderError struct {
	Header string // the offending header bytes, if any
	Reason string
}

func (err *HeaderError) Error() string {
	if err.Header == "" {
		return "invalid header: " + err.Reason
	}
	return fmt.Sprintf("invalid header %q: %s", err.Header, err.Reason)
}

func newHeaderError(b []byte, format string, args ...interface{}) error {
	return errors.WithStack(&HeaderError{Header: string(b), Reason: fmt.Sprintf(format, args...)})
}

// ErrUnknownStream is the protocol error reported when Stream frames
// arrive for an id no envelope has declared.
type ErrUnknownStream struct {
	ID uuid.UUID
}

func (err ErrUnknownStream) Error() string {
	return "stream frame for undeclared id " + err.ID.String()
}

// ErrDuplicateRequest is returned when a request id is registered while
// a request with the same id is still pending.
type ErrDuplicateRequest struct {
	ID uuid.UUID
}

func (err ErrDuplicateRequest) Error() string {
	return "request id already pending " + err.ID.String()
}

// ErrPeerDisconnected is the disconnect cause when the peer sent CancelAll.
type ErrPeerDisconnected struct{}

func (ErrPeerDisconnected) Error() string { return "peer disconnected" }

// ErrClosed is returned when using a Protocol after it has disconnected.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "protocol closed" }

// ErrStreamEnded is returned when writing to a Stream that has ended.
type ErrStreamEnded struct{}

func (ErrStreamEnded) Error() string { return "write to ended stream" }

// ErrStreamCancelled is the default error read from a cancelled Stream.
type ErrStreamCancelled struct{}

func (ErrStreamCancelled) Error() string { return "stream cancelled" }

// ErrServerClosed is returned by Server.Serve after Server.Close.
type ErrServerClosed struct{}

func (ErrServerClosed) Error() string { return "server closed" }

// DisconnectedError is the error pending requests are rejected with
// when the connection goes away. Err holds the transport error, or is
// nil if the connection was closed locally.
type DisconnectedError struct {
	Err error
}

func (err *DisconnectedError) Error() string {
	if err.Err == nil {
		return "disconnected"
	}
	return "disconnected: " + err.Err.Error()
}

// Unwrap returns the transport error.
func (err *DisconnectedError) Unwrap() error { return err.Err }

// EnvelopeError reports a request or response envelope that failed to
// validate or decode. Only the logical unit with that id is affected.
type EnvelopeError struct {
	ID          uuid.UUID
	PayloadType PayloadType
	Err         error
}

func (err *EnvelopeError) Error() string {
	return fmt.Sprintf("%v envelope %v: %v", err.PayloadType, err.ID, err.Err)
}

// Unwrap returns the underlying decode or validation error.
func (err *EnvelopeError) Unwrap() error { return err.Err }

var closedErrors = []error{
	ErrServerClosed{},
	ErrClosed{},
	ErrPeerDisconnected{},
	io.ErrClosedPipe,
	io.EOF,
	net.ErrClosed,
	context.Canceled,
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range closedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	var de *DisconnectedError
	return errors.As(err, &de)
}
