// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package streaming implements a bidirectional, multiplexed request/response protocol over a single ordered byte stream, such as a WebSocket, a TCP connection or a pipe.

Either peer may send requests. A request has a verb, a path and zero or more content streams. A response has a status code and zero or more content streams. Many requests and their content may be in flight at once over the same connection.

Everything on the wire is a frame: a fixed 48 byte text header followed by up to 999999 payload bytes. The header holds a payload type character, the zero padded payload length, the UUID of the logical unit the frame belongs to and an end flag. A logical unit, be it a JSON envelope or a content stream, may span many frames sharing one id. The last frame has the end flag set.

Requests and responses are sent as a JSON envelope frame listing the content streams that follow. Content is then sent as Stream frames of at most 4096 bytes each, one frame at a time per stream, so a large attachment never holds up other traffic for long.

A Protocol owns one transport and runs one read loop and one write loop over it. Inbound requests are handed to a RequestHandler on their own goroutine, and the response is sent back under the id of the request. Outbound requests are correlated with their responses by a RequestManager. When the transport fails every pending request is rejected with a *DisconnectedError.
*/
package streaming
