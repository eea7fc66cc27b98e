// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewIdentity", func() {
	It("normalizes the MAC address", func() {
		id, err := NewIdentity("D8:13:2A:25:2F:AC", "ac2f25")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.MAC()).To(Equal("d8:13:2a:25:2f:ac"))
		Expect(id.Serial()).To(Equal("ac2f25"))
	})

	It("rejects a missing MAC address", func() {
		_, err := NewIdentity("", "ac2f25")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a missing serial", func() {
		_, err := NewIdentity("D8:13:2A:25:2F:AC", "")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a malformed MAC address", func() {
		_, err := NewIdentity("not-a-mac", "ac2f25")
		Expect(err).To(HaveOccurred())
	})
})
