// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package streaming

func init() {
	// the race detector can only handle 8192 goroutines, and every
	// request with content costs a few, so stress tests scale down
	raceEnabled = true
}
