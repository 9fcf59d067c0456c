// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import "github.com/google/uuid"

// sanity check the configuration
func init() {
	if MinLength < 0 {
		panic("MinLength < 0")
	}
	if MaxLength < MaxPayloadLength {
		panic("MaxLength < MaxPayloadLength")
	}
	if MaxLength > 999999 {
		panic("MaxLength does not fit in the header length field")
	}
	if MaxPayloadLength < 1 {
		panic("MaxPayloadLength < 1")
	}
	if headerEndPos+2 != MaxHeaderLength {
		panic("header field positions do not add up to MaxHeaderLength")
	}
	if n := len(Header{PayloadType: PayloadTypeStream, ID: uuid.Nil}.AppendTo(nil)); n != MaxHeaderLength {
		panic("encoded header length != MaxHeaderLength")
	}
	if DefaultSendQueueSize < 1 {
		panic("DefaultSendQueueSize < 1")
	}
}
