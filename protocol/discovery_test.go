// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package protocol

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("DiscoveryReply", func() {
	It("round-trips through encode/decode", func() {
		reply := DiscoveryReply{
			SerialNumber: "ac2f25",
			IPAddress:    "192.168.1.50",
			StateCounter: 7,
			MACAddress:   "d8:13:2a:25:2f:ac",
		}

		encoded, err := EncodeDiscoveryReply(reply)
		Expect(err).NotTo(HaveOccurred())
		Expect(encoded[0]).To(Equal(byte('$')))

		decoded, err := DecodeDiscoveryReply(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(Equal(reply))
	})

	It("decodes the literal example from the wire format", func() {
		datagram := []byte(`$` + `{"serial_number":"ac2f25","ip_address":"192.168.1.50","state_counter":7,"mac_address":"D8:13:2A:25:2F:AC"}`)

		decoded, err := DecodeDiscoveryReply(datagram)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.SerialNumber).To(Equal("ac2f25"))
		Expect(decoded.IPAddress).To(Equal("192.168.1.50"))
		Expect(decoded.StateCounter).To(Equal(int64(7)))
		Expect(decoded.MACAddress).To(Equal("D8:13:2A:25:2F:AC"))
	})

	It("rejects datagrams without the envelope prefix", func() {
		_, err := DecodeDiscoveryReply([]byte(`{"serial_number":"x"}`))
		Expect(err).To(MatchError(ErrNotADiscoveryReply))
	})

	It("omits a missing MAC address rather than emitting an empty field", func() {
		reply := DiscoveryReply{SerialNumber: "abc", IPAddress: "10.0.0.1", StateCounter: 1}
		encoded, err := EncodeDiscoveryReply(reply)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(encoded)).NotTo(ContainSubstring("mac_address"))
	})
})
