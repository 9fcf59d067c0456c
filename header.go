// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

/*

Header describes one frame on the wire. It is encoded as exactly
MaxHeaderLength ASCII bytes:

	T.LLLLLL.IIIIIIII-IIII-IIII-IIII-IIIIIIIIIIII.E\n

T is the PayloadType character, L the zero padded decimal payload length,
I the canonical UUID of the logical unit and E is '1' if this is the last
frame of the logical unit, otherwise '0'. The payload bytes follow
immediately after the header.

*/
type Header struct {
	PayloadType   PayloadType
	PayloadLength int
	ID            uuid.UUID
	End           bool
}

const (
	headerDelimiter    = '.'
	headerTerminator   = '\n'
	headerLengthDigits = 6
	headerLengthPos    = 2
	headerIDPos        = headerLengthPos + headerLengthDigits + 1
	headerIDLength     = 36
	headerEndPos       = headerIDPos + headerIDLength + 1
)

// NewHeader returns a Header after checking the payload type and length.
func NewHeader(pt PayloadType, length int, id uuid.UUID, end bool) (h Header, err error) {
	h = Header{
		PayloadType:   pt,
		PayloadLength: length,
		ID:            id,
		End:           end,
	}
	if err = h.Validate(); err != nil {
		h = Header{}
	}
	return
}

// Validate checks that the Header can be encoded.
func (h Header) Validate() error {
	if !h.PayloadType.Valid() {
		return newHeaderError(nil, "unknown payload type %v", h.PayloadType)
	}
	if h.PayloadLength < MinLength || h.PayloadLength > MaxLength {
		return newHeaderError(nil, "payload length %d outside [%d, %d]", h.PayloadLength, MinLength, MaxLength)
	}
	if h.PayloadType.IsControl() && h.PayloadLength != 0 {
		return newHeaderError(nil, "%v frames carry no payload", h.PayloadType)
	}
	return nil
}

// AppendTo appends the wire encoding of h to b. The Header must be valid.
func (h Header) AppendTo(b []byte) []byte {
	end := byte('0')
	if h.End {
		end = '1'
	}
	b = append(b, byte(h.PayloadType), headerDelimiter)
	b = append(b, fmt.Sprintf("%06d", h.PayloadLength)...)
	b = append(b, headerDelimiter)
	b = append(b, h.ID.String()...)
	return append(b, headerDelimiter, end, headerTerminator)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h.AppendTo(make([]byte, 0, MaxHeaderLength)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Header) UnmarshalBinary(b []byte) (err error) {
	var parsed Header
	if parsed, err = ParseHeader(b); err == nil {
		*h = parsed
	}
	return
}

// ParseHeader decodes exactly MaxHeaderLength bytes. On failure the
// returned Header is always the zero value and the error is a *HeaderError.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != MaxHeaderLength {
		return Header{}, newHeaderError(b, "length %d, expected %d", len(b), MaxHeaderLength)
	}
	if b[len(b)-1] != headerTerminator {
		return Header{}, newHeaderError(b, "missing terminator")
	}
	tokens := strings.Split(string(b[:len(b)-1]), string(headerDelimiter))
	if len(tokens) != 4 {
		return Header{}, newHeaderError(b, "expected 4 tokens, got %d", len(tokens))
	}
	if len(tokens[0]) != 1 {
		return Header{}, newHeaderError(b, "payload type token %q is not one character", tokens[0])
	}
	pt := PayloadType(tokens[0][0])
	if !pt.Valid() {
		return Header{}, newHeaderError(b, "unknown payload type %q", tokens[0])
	}
	length, ok := parseLength(tokens[1])
	if !ok {
		return Header{}, newHeaderError(b, "payload length %q is not numeric", tokens[1])
	}
	if len(tokens[2]) != headerIDLength {
		return Header{}, newHeaderError(b, "id %q is not a UUID", tokens[2])
	}
	id, err := uuid.Parse(tokens[2])
	if err != nil {
		return Header{}, newHeaderError(b, "id %q is not a UUID", tokens[2])
	}
	var end bool
	switch tokens[3] {
	case "1":
		end = true
	case "0":
	default:
		return Header{}, newHeaderError(b, "end token %q is neither 0 nor 1", tokens[3])
	}
	if pt.IsControl() && length != 0 {
		return Header{}, newHeaderError(b, "%v frames carry no payload", pt)
	}
	return Header{PayloadType: pt, PayloadLength: length, ID: id, End: end}, nil
}

// recoverHeader extracts the length and id from a header that failed to
// parse, using the fixed field positions. If both are usable, the payload
// can be skipped and the stream stays in sync.
func recoverHeader(b []byte) (length int, id uuid.UUID, ok bool) {
	if len(b) != MaxHeaderLength ||
		b[headerLengthPos-1] != headerDelimiter ||
		b[headerIDPos-1] != headerDelimiter ||
		b[headerEndPos-1] != headerDelimiter {
		return
	}
	if length, ok = parseLength(string(b[headerLengthPos : headerLengthPos+headerLengthDigits])); ok {
		var err error
		if id, err = uuid.Parse(string(b[headerIDPos : headerIDPos+headerIDLength])); err != nil {
			ok = false
		}
	}
	return
}

func parseLength(s string) (n int, ok bool) {
	if len(s) != headerLengthDigits {
		return
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (h Header) String() string {
	end := ""
	if h.End {
		end = " END"
	}
	return fmt.Sprintf("[Header %v %v %d%s]", h.PayloadType, h.ID, h.PayloadLength, end)
}
