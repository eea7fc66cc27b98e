// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package network provides the UDP transport primitives used by the rest of
// the engine: interface enumeration, a multiplexed receive loop, and a
// datagram send primitive.
package network

import (
	"net"

	"github.com/pkg/errors"
)

const (
	// MaxUDPSize is the largest UDP package size.
	MaxUDPSize = 65507
)

// Interface describes a usable local IPv4 network interface: its name, its
// unicast address, and the directed broadcast address that can be used to
// reach every host on its link.
//
// Interface is immutable once enumerated.
type Interface struct {
	// Name is the OS-reported interface name (e.g. "eth0").
	Name string

	// Addr is the interface's unicast IPv4 address.
	Addr net.IP

	// Broadcast is the interface's directed broadcast address, derived from
	// Addr and its subnet mask.
	Broadcast net.IP
}

func (i Interface) String() string {
	return i.Name + " (" + i.Addr.String() + " bcast " + i.Broadcast.String() + ")"
}

// EnumerateInterfaces returns every usable, non-loopback IPv4 interface on
// the host that supports broadcast.
//
// Interfaces that are down, loopback, point-to-point (no broadcast domain),
// or that carry no IPv4 address are skipped.
func EnumerateInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "could not list network interfaces")
	}

	var result []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			// Skip interfaces we can't inspect rather than failing the whole
			// enumeration.
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}

			result = append(result, Interface{
				Name:      iface.Name,
				Addr:      ip4,
				Broadcast: directedBroadcast(ip4, ipNet.Mask),
			})
		}
	}

	return result, nil
}

// directedBroadcast computes the directed broadcast address for ip/mask by
// setting every host bit to 1.
func directedBroadcast(ip net.IP, mask net.IPMask) net.IP {
	bcast := make(net.IP, len(ip))
	for i := range ip {
		m := byte(0xff)
		if i < len(mask) {
			m = mask[i]
		}
		bcast[i] = ip[i] | ^m
	}
	return bcast
}
