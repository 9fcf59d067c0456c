// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import "time"

const (
	// MaxHeaderLength is the exact number of bytes in a frame header.
	MaxHeaderLength = 48
	// MaxPayloadLength is the largest chunk of payload written or read at once.
	MaxPayloadLength = 4096
	// MaxLength is the largest payload a single frame may declare.
	MaxLength = 999999
	// MinLength is the smallest payload a single frame may declare.
	MinLength = 0
	// DefaultWriteTimeout bounds a single frame write when the transport supports deadlines.
	DefaultWriteTimeout = time.Second * 5
	// DefaultSendQueueSize is the number of frames that may wait for the sender.
	DefaultSendQueueSize = 64
	// DefaultCancelAllTimeout is how long Close waits for the CancelAll frame to be written.
	DefaultCancelAllTimeout = time.Millisecond * 250
)
