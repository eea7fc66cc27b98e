// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"context"
	"net"
	"time"

	"github.com/koiosdigital/pixelair-go/discovery"
	"github.com/koiosdigital/pixelair-go/protocol"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Poller", func() {
	var (
		mux  *fakeMux
		disc *discovery.Service
		c    *Controller
		p    *Poller
	)

	BeforeEach(func() {
		mux = &fakeMux{}
		disc = &discovery.Service{Mux: mux}
		disc.Start()

		c = newTestController(mux, fakeDecoder{}, net.ParseIP("192.168.1.60"))
		c.discover = disc
		c.resolver = fakeResolver{}
		Expect(c.Register()).To(Succeed())

		p = &Poller{
			Controller:             c,
			Discovery:              disc,
			Interval:               10 * time.Millisecond,
			MaxInterval:            40 * time.Millisecond,
			MaxConsecutiveFailures: 2,
		}
		p.currentInterval = p.initialInterval()
	})

	It("doubles the backoff interval on consecutive failures and caps it", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		p.onFailure(ctx)
		Expect(p.currentInterval).To(Equal(20 * time.Millisecond))

		p.onFailure(ctx)
		Expect(p.currentInterval).To(Equal(40 * time.Millisecond))

		p.onFailure(ctx)
		Expect(p.currentInterval).To(Equal(40 * time.Millisecond))
	})

	It("resolves after MaxConsecutiveFailures and resets the failure count", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		p.onFailure(ctx)
		Expect(p.consecutiveFailures).To(Equal(1))

		p.onFailure(ctx)
		Expect(p.consecutiveFailures).To(Equal(0))
		Expect(c.lastBroadcastResolve.IsZero()).To(BeFalse())
	})

	It("resets backoff to the initial interval on success", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		p.onFailure(ctx)
		Expect(p.currentInterval).To(Equal(20 * time.Millisecond))

		p.onSuccess()
		Expect(p.currentInterval).To(Equal(p.initialInterval()))
		Expect(p.consecutiveFailures).To(Equal(0))
	})

	It("treats a controller with no resolved IP as a failed probe", func() {
		identity, err := NewIdentity("D8:13:2A:25:2F:AD", "noiphere")
		Expect(err).NotTo(HaveOccurred())
		noIP := NewController(identity, Config{Decoder: fakeDecoder{}, Resolver: fakeResolver{}})
		noIP.mux, noIP.send = mux, mux
		noIP.discover = disc
		Expect(noIP.Register()).To(Succeed())

		p.Controller = noIP

		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		p.pollOnce(ctx)
		Expect(p.consecutiveFailures).To(Equal(1))
	})

	It("fetches a fresh snapshot when the discovery state counter advances", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		src := &net.UDPAddr{IP: net.ParseIP("192.168.1.60")}

		go p.pollOnce(ctx)
		Eventually(func() int { return mux.sentCount() }).Should(Equal(1))
		mux.deliver(encodeReply(protocol.DiscoveryReply{SerialNumber: "ac2f25", StateCounter: 1}), src)

		Eventually(func() int { return mux.sentCount() }).Should(Equal(2))
		getStateCmd, err := protocol.Decode(mux.sentAt(1).data)
		Expect(err).NotTo(HaveOccurred())
		Expect(getStateCmd.Route).To(Equal(getStateRoute))

		Eventually(func() int64 {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.lastStateCounter
		}).Should(Equal(int64(1)))
	})

	It("does not fetch a snapshot when the state counter is unchanged", func() {
		p.haveLastCounter = true
		p.lastStateCounter = 5

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		src := &net.UDPAddr{IP: net.ParseIP("192.168.1.60")}

		go p.pollOnce(ctx)
		Eventually(func() int { return mux.sentCount() }).Should(Equal(1))
		mux.deliver(encodeReply(protocol.DiscoveryReply{SerialNumber: "ac2f25", StateCounter: 5}), src)

		Consistently(func() int { return mux.sentCount() }, 100*time.Millisecond).Should(Equal(1))
	})

	It("starts and stops its poll loop cleanly", func() {
		ctx, cancel := context.WithCancel(context.Background())

		p.Start(ctx)
		p.Start(ctx) // idempotent
		time.Sleep(15 * time.Millisecond)
		cancel() // unblocks any in-flight probe wait before Stop joins the loop
		p.Stop()
	})
})

func encodeReply(r protocol.DiscoveryReply) []byte {
	b, err := protocol.EncodeDiscoveryReply(r)
	Expect(err).NotTo(HaveOccurred())
	return b
}
