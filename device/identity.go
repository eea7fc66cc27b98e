// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"github.com/koiosdigital/pixelair-go/support/arp"

	"github.com/pkg/errors"
)

// Identity is the pair (normalized MAC, serial) that uniquely and robustly
// names a device across IP changes. Identity is immutable once constructed.
type Identity struct {
	mac    string
	serial string
}

// NewIdentity normalizes mac and pairs it with serial.
//
// A MAC address is mandatory at construction time: a device without one
// cannot be robustly re-identified after an IP change, so creation is
// rejected rather than producing a half-formed identity. This is distinct
// from a later snapshot update, which may legitimately omit the MAC
// address -- see Controller.applySnapshot.
func NewIdentity(mac, serial string) (Identity, error) {
	if serial == "" {
		return Identity{}, errors.New("identity requires a non-empty serial")
	}

	normalized, err := arp.Normalize(mac)
	if err != nil {
		return Identity{}, errors.Wrapf(ErrInvalidMac, "%s", err)
	}

	return Identity{mac: normalized, serial: serial}, nil
}

// MAC returns the identity's normalized MAC address.
func (id Identity) MAC() string { return id.mac }

// Serial returns the identity's serial number.
func (id Identity) Serial() string { return id.serial }
