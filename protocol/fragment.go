// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package protocol implements the wire formats devices and this engine
// exchange: the fixed-size fragment header prefixing every state datagram,
// the discovery reply envelope, and OSC-style control command encoding.
package protocol

import (
	"bytes"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// FragmentMarker is the first byte of every fragment header, identifying the
// datagram as a piece of a larger, reassembled payload.
const FragmentMarker = 0x46

// FragmentHeaderSize is the encoded size, in bytes, of FragmentHeader.
const FragmentHeaderSize = 4

// ErrNotAFragment is returned by DecodeFragmentHeader when the datagram's
// first byte is not FragmentMarker.
var ErrNotAFragment = errors.New("datagram is not a fragment")

// FragmentHeader is the 4-byte header prefixing each datagram that is part
// of a fragmented payload.
type FragmentHeader struct {
	Marker         byte `struc:"byte"`
	TotalFragments byte `struc:"byte"`
	FragmentIndex  byte `struc:"byte"`
	GroupID        byte `struc:"byte"`
}

// DecodeFragmentHeader parses the leading FragmentHeaderSize bytes of
// datagram as a FragmentHeader and returns the header along with the
// remaining payload bytes.
//
// DecodeFragmentHeader returns ErrNotAFragment if datagram is too short or
// does not begin with FragmentMarker; this is the caller's signal to treat
// the datagram as something other than a fragment.
func DecodeFragmentHeader(datagram []byte) (FragmentHeader, []byte, error) {
	if len(datagram) < FragmentHeaderSize || datagram[0] != FragmentMarker {
		return FragmentHeader{}, nil, ErrNotAFragment
	}

	var hdr FragmentHeader
	if err := struc.Unpack(bytes.NewReader(datagram[:FragmentHeaderSize]), &hdr); err != nil {
		return FragmentHeader{}, nil, errors.Wrap(err, "decoding fragment header")
	}
	return hdr, datagram[FragmentHeaderSize:], nil
}

// EncodeFragmentHeader renders hdr as its FragmentHeaderSize-byte wire
// encoding.
func EncodeFragmentHeader(hdr FragmentHeader) ([]byte, error) {
	hdr.Marker = FragmentMarker

	var buf bytes.Buffer
	if err := struc.Pack(&buf, &hdr); err != nil {
		return nil, errors.Wrap(err, "encoding fragment header")
	}
	return buf.Bytes(), nil
}
