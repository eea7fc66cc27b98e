// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package reassembler

import (
	"net"
	"time"

	"github.com/koiosdigital/pixelair-go/protocol"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func fragment(total, index, group byte, payload []byte) []byte {
	hdr, err := protocol.EncodeFragmentHeader(protocol.FragmentHeader{
		TotalFragments: total,
		FragmentIndex:  index,
		GroupID:        group,
	})
	Expect(err).NotTo(HaveOccurred())
	return append(hdr, payload...)
}

var _ = Describe("Reassembler", func() {
	var (
		r        *Reassembler
		src      *net.UDPAddr
		emitted  [][]byte
		emitSrcs []*net.UDPAddr
	)

	BeforeEach(func() {
		emitted = nil
		emitSrcs = nil
		r = &Reassembler{
			Consumer: func(s *net.UDPAddr, payload []byte) {
				emitted = append(emitted, payload)
				emitSrcs = append(emitSrcs, s)
			},
		}
		src = &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 9090}
		now = time.Now
	})

	AfterEach(func() {
		now = time.Now
	})

	It("ignores datagrams that are not fragments", func() {
		claimed := r.HandleDatagram([]byte("$not a fragment"), src)
		Expect(claimed).To(BeFalse())
		Expect(emitted).To(BeEmpty())
	})

	It("emits a single-fragment group identical to its payload", func() {
		claimed := r.HandleDatagram(fragment(1, 0, 0x01, []byte("hello")), src)
		Expect(claimed).To(BeTrue())
		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("hello")))
	})

	It("concatenates out-of-order fragments in ascending index order", func() {
		r.HandleDatagram(fragment(3, 2, 0x11, []byte("C")), src)
		r.HandleDatagram(fragment(3, 0, 0x11, []byte("A")), src)
		r.HandleDatagram(fragment(3, 1, 0x11, []byte("B")), src)

		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("ABC")))
	})

	It("emits at most once per group even with duplicate fragments", func() {
		r.HandleDatagram(fragment(3, 0, 0x11, []byte("A")), src)
		r.HandleDatagram(fragment(3, 1, 0x11, []byte("B")), src)
		r.HandleDatagram(fragment(3, 1, 0x11, []byte("B")), src)
		r.HandleDatagram(fragment(3, 2, 0x11, []byte("C")), src)

		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("ABC")))
	})

	It("restarts a group when the total fragment count conflicts", func() {
		r.HandleDatagram(fragment(3, 0, 0x11, []byte("A")), src)
		r.HandleDatagram(fragment(2, 0, 0x11, []byte("X")), src)

		r.HandleDatagram(fragment(2, 1, 0x11, []byte("Y")), src)
		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("XY")))
	})

	It("discards fragments whose index is outside the advertised total", func() {
		claimed := r.HandleDatagram(fragment(3, 3, 0x11, []byte("X")), src)
		Expect(claimed).To(BeTrue())

		r.HandleDatagram(fragment(3, 0, 0x11, []byte("A")), src)
		r.HandleDatagram(fragment(3, 1, 0x11, []byte("B")), src)
		r.HandleDatagram(fragment(3, 2, 0x11, []byte("C")), src)

		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("ABC")))
	})

	It("discards a fragment advertising a zero total", func() {
		claimed := r.HandleDatagram(fragment(0, 0, 0x11, []byte("X")), src)
		Expect(claimed).To(BeTrue())
		Expect(emitted).To(BeEmpty())
	})

	It("completes a group whose last fragment arrives exactly at the deadline", func() {
		r.Deadline = 5 * time.Second
		base := time.Now()
		now = func() time.Time { return base }

		r.HandleDatagram(fragment(2, 0, 0x33, []byte("A")), src)

		now = func() time.Time { return base.Add(5 * time.Second) }
		r.HandleDatagram(fragment(2, 1, 0x33, []byte("B")), src)

		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0]).To(Equal([]byte("AB")))
	})

	It("expires a group older than the deadline without emitting", func() {
		r.Deadline = 5 * time.Second
		base := time.Now()
		now = func() time.Time { return base }

		r.HandleDatagram(fragment(2, 0, 0x22, []byte("A")), src)

		now = func() time.Time { return base.Add(6 * time.Second) }
		r.HandleDatagram(fragment(2, 1, 0x22, []byte("B")), src)

		Expect(emitted).To(BeEmpty())
	})

	It("keys groups independently per source address", func() {
		other := &net.UDPAddr{IP: net.ParseIP("192.168.1.51"), Port: 9090}

		r.HandleDatagram(fragment(1, 0, 0x01, []byte("from-src")), src)
		r.HandleDatagram(fragment(1, 0, 0x01, []byte("from-other")), other)

		Expect(emitted).To(ConsistOf([]byte("from-src"), []byte("from-other")))
	})
})
