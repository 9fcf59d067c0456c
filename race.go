// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

// raceEnabled will be true if -race is enabled (see raceenabled.go)
var raceEnabled bool
