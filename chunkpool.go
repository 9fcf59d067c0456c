package streaming

// Provides a buffer of allocated but unused payload chunks.
var chunkPool = make(chan []byte, 1024)

// chunkAlloc returns a slice of MaxPayloadLength bytes.
func chunkAlloc() []byte {
	select {
	case b := <-chunkPool:
		return b[:MaxPayloadLength]
	default:
		return make([]byte, MaxPayloadLength)
	}
}

// chunkFree releases a slice obtained from chunkAlloc. The caller
// must not use it afterwards.
func chunkFree(b []byte) {
	if cap(b) == MaxPayloadLength {
		select {
		case chunkPool <- b[:0]:
		default:
		}
	}
}
