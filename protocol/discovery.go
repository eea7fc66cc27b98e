// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// discoveryEnvelopePrefix is prepended to every discovery reply's JSON body.
// Devices on the wire use it to distinguish a discovery reply from any other
// datagram that might land on the discovery port.
const discoveryEnvelopePrefix = '$'

// ErrNotADiscoveryReply is returned by DecodeDiscoveryReply when the
// datagram does not carry the discovery envelope prefix.
var ErrNotADiscoveryReply = errors.New("datagram is not a discovery reply")

// DiscoveryReply is a device's response to a discovery probe.
type DiscoveryReply struct {
	// SerialNumber uniquely identifies the device.
	SerialNumber string `json:"serial_number"`

	// IPAddress is the dotted-quad address the device is reachable at.
	IPAddress string `json:"ip_address"`

	// StateCounter increments each time the device's published state
	// changes; it lets a poller detect staleness without fetching full
	// state.
	StateCounter int64 `json:"state_counter"`

	// MACAddress is the device's hardware address, when the device chose to
	// include it. A missing MAC address on a reply received after the
	// device's identity is already known is not an error.
	MACAddress string `json:"mac_address,omitempty"`
}

// EncodeDiscoveryReply renders r as a discovery reply datagram: the
// envelope prefix followed by r's JSON encoding.
func EncodeDiscoveryReply(r DiscoveryReply) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encoding discovery reply")
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, discoveryEnvelopePrefix)
	out = append(out, body...)
	return out, nil
}

// DecodeDiscoveryReply parses datagram as a discovery reply.
//
// It returns ErrNotADiscoveryReply if datagram does not begin with the
// discovery envelope prefix, which is the caller's signal to ignore the
// datagram as belonging to some other protocol.
func DecodeDiscoveryReply(datagram []byte) (DiscoveryReply, error) {
	if len(datagram) == 0 || datagram[0] != discoveryEnvelopePrefix {
		return DiscoveryReply{}, ErrNotADiscoveryReply
	}

	var r DiscoveryReply
	if err := json.Unmarshal(datagram[1:], &r); err != nil {
		return DiscoveryReply{}, errors.Wrap(err, "decoding discovery reply")
	}
	return r, nil
}

// DiscoveryProbe is the OSC-like path sent to solicit a DiscoveryReply.
//
// Probes carry no body; the route alone is the request.
type DiscoveryProbe struct {
	// Route is the OSC-style path identifying the probe, e.g.
	// "/discovery".
	Route string
}

// Encode renders the probe as its wire datagram: the bare route string.
func (p DiscoveryProbe) Encode() []byte {
	return []byte(p.Route)
}
