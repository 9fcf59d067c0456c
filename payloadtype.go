package streaming

import "fmt"

// PayloadType is the single character frame discriminator.
type PayloadType byte

const (
	// PayloadTypeRequest frames carry a JSON request envelope.
	PayloadTypeRequest = PayloadType('A')
	// PayloadTypeResponse frames carry a JSON response envelope.
	PayloadTypeResponse = PayloadType('B')
	// PayloadTypeStream frames carry raw bytes of a content stream declared in an envelope.
	PayloadTypeStream = PayloadType('S')
	// PayloadTypeCancelAll tells the peer the sender is disconnecting. No payload.
	PayloadTypeCancelAll = PayloadType('X')
	// PayloadTypeCancelStream asks the peer to stop producing the content stream with the frame id. No payload.
	PayloadTypeCancelStream = PayloadType('C')
)

// Valid returns true if pt is one of the known payload types.
func (pt PayloadType) Valid() bool {
	switch pt {
	case PayloadTypeRequest, PayloadTypeResponse, PayloadTypeStream,
		PayloadTypeCancelAll, PayloadTypeCancelStream:
		return true
	}
	return false
}

// IsEnvelope returns true for payload types whose logical unit is a JSON envelope.
func (pt PayloadType) IsEnvelope() bool {
	return pt == PayloadTypeRequest || pt == PayloadTypeResponse
}

// IsControl returns true for payload types that never carry payload bytes.
func (pt PayloadType) IsControl() bool {
	return pt == PayloadTypeCancelAll || pt == PayloadTypeCancelStream
}

func (pt PayloadType) String() string {
	switch pt {
	case PayloadTypeRequest:
		return "Request"
	case PayloadTypeResponse:
		return "Response"
	case PayloadTypeStream:
		return "Stream"
	case PayloadTypeCancelAll:
		return "CancelAll"
	case PayloadTypeCancelStream:
		return "CancelStream"
	}
	return fmt.Sprintf("PayloadType(%q)", byte(pt))
}
