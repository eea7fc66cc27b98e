// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers for diagnostics.
package fmtutil

import "encoding/hex"

// Hex is a byte slice whose String method renders a full hex dump.
//
// Because the dump is produced lazily by String, a Hex can be handed to a
// formatted log call without paying for the dump unless the log line is
// actually emitted.
type Hex []byte

func (h Hex) String() string { return hex.Dump(h) }
