// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package arp resolves a hardware address to an IPv4 address by consulting
// the kernel's neighbor (ARP) table. It never sends synthesized ARP traffic:
// a miss means the table has nothing, not that the resolver tried and
// failed.
package arp

import (
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// ErrInvalidMac is returned by Normalize and Resolve when a MAC address
// string cannot be parsed as a 6-octet hardware address.
var ErrInvalidMac = errors.New("invalid MAC address")

// Normalize parses mac (accepting colon-, hyphen-, or unseparated
// hexadecimal forms) and returns its canonical lowercase colon-separated
// form, e.g. "aa:bb:cc:dd:ee:ff".
func Normalize(mac string) (string, error) {
	hw, err := parseHardwareAddr(mac)
	if err != nil {
		return "", err
	}
	return hw.String(), nil
}

func parseHardwareAddr(mac string) (net.HardwareAddr, error) {
	s := mac
	if !strings.ContainsAny(s, ":-") && len(s) == 12 {
		// Bare hex, e.g. "aabbccddeeff" -- insert colons so net.ParseMAC accepts
		// it.
		var sb strings.Builder
		for i := 0; i < len(s); i += 2 {
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(s[i : i+2])
		}
		s = sb.String()
	}

	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidMac, "%q: %s", mac, err)
	}
	if len(hw) != 6 {
		return nil, errors.Wrapf(ErrInvalidMac, "%q: not a 6-octet hardware address", mac)
	}
	return hw, nil
}

// Resolver looks up the IPv4 address currently associated with a hardware
// address in the kernel's neighbor table.
//
// Resolver holds no state of its own; every Resolve call re-reads the
// kernel's table, so results always reflect the table as of the call.
type Resolver struct{}

// Resolve returns the IPv4 address the kernel's neighbor table currently
// associates with mac, or nil if the table has no entry for it.
//
// Resolve consults the table only; it never emits an ARP request of its
// own.
func (Resolver) Resolve(mac string) (net.IP, error) {
	hw, err := parseHardwareAddr(mac)
	if err != nil {
		return nil, err
	}

	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrap(err, "listing neighbor table")
	}

	for _, n := range neighs {
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE) != 0 {
			continue
		}
		if len(n.HardwareAddr) == 0 || n.IP == nil {
			continue
		}
		if strings.EqualFold(n.HardwareAddr.String(), hw.String()) {
			if ip4 := n.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}

	return nil, nil
}
