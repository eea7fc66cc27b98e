// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package byteslicereader

import (
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("R", func() {
	It("reads the whole buffer through Read", func() {
		r := &R{Buffer: []byte("datagram")}

		out := make([]byte, 8)
		n, err := r.Read(out)
		Expect(n).To(Equal(8))
		Expect(err).To(Equal(io.EOF))
		Expect(out).To(Equal([]byte("datagram")))
		Expect(r.Remaining()).To(BeZero())
	})

	It("reads in chunks smaller than the buffer", func() {
		r := &R{Buffer: []byte("abcdef")}

		out := make([]byte, 4)
		n, err := r.Read(out)
		Expect(n).To(Equal(4))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("abcd")))
		Expect(r.Remaining()).To(Equal(2))
	})

	It("returns EOF from an exhausted reader", func() {
		r := &R{Buffer: []byte("x")}

		_, err := r.ReadByte()
		Expect(err).NotTo(HaveOccurred())

		_, err = r.ReadByte()
		Expect(err).To(Equal(io.EOF))

		_, err = r.Read(make([]byte, 1))
		Expect(err).To(Equal(io.EOF))
	})

	It("walks bytes one at a time through ReadByte", func() {
		r := &R{Buffer: []byte{0x46, 0x03}}

		b, err := r.ReadByte()
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(byte(0x46)))

		b, err = r.ReadByte()
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(byte(0x03)))
	})

	It("returns a window of the backing slice from Next", func() {
		backing := []byte("headerpayload")
		r := &R{Buffer: backing}

		v, err := r.Next(6)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]byte("header")))

		// The window aliases the backing slice rather than copying it.
		v[0] = 'H'
		Expect(backing[0]).To(Equal(byte('H')))
	})

	It("returns the short remainder and EOF when Next overruns", func() {
		r := &R{Buffer: []byte("abc")}

		v, err := r.Next(10)
		Expect(err).To(Equal(io.EOF))
		Expect(v).To(Equal([]byte("abc")))

		v, err = r.Next(1)
		Expect(err).To(Equal(io.EOF))
		Expect(v).To(BeEmpty())
	})

	It("snapshots its position when copied", func() {
		r := R{Buffer: []byte("abcd")}
		_, err := r.ReadByte()
		Expect(err).NotTo(HaveOccurred())

		saved := r
		_, err = r.ReadByte()
		Expect(err).NotTo(HaveOccurred())

		b, err := saved.ReadByte()
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(byte('b')))
	})
})
