// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bufferpool

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	It("hands out buffers at the configured size", func() {
		p := &Pool{Size: 128}

		b := p.Get()
		Expect(b.Len()).To(Equal(128))
		Expect(b.Bytes()).To(HaveLen(128))
	})

	It("truncates the visible contents without touching capacity", func() {
		p := &Pool{Size: 64}

		b := p.Get()
		n := copy(b.Bytes(), "fragment")
		b.Truncate(n)

		Expect(b.Bytes()).To(Equal([]byte("fragment")))
		Expect(b.Len()).To(Equal(n))
	})

	It("restores the full size when a released buffer is reused", func() {
		p := &Pool{Size: 32}

		b := p.Get()
		b.Truncate(3)
		b.Release()

		b = p.Get()
		Expect(b.Len()).To(Equal(32))
	})

	It("ignores a double Release", func() {
		p := &Pool{Size: 16}

		b := p.Get()
		b.Release()
		b.Release()
	})

	It("rejects out-of-range truncation", func() {
		p := &Pool{Size: 8}

		b := p.Get()
		b.Truncate(9)
		Expect(b.Len()).To(Equal(8))

		b.Truncate(-1)
		Expect(b.Len()).To(Equal(8))
	})
})
