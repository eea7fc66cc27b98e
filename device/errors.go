// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import "github.com/pkg/errors"

// Caller-surfaced errors. Each is a distinct sentinel so callers can test
// with errors.Is; wrapped instances carry additional context via
// errors.Wrap/Wrapf.
var (
	// ErrInvalidMac is returned when a MAC address string cannot be parsed.
	ErrInvalidMac = errors.New("invalid MAC address")

	// ErrNotRegistered is returned by controller operations performed while
	// the device is not in the Registered state.
	ErrNotRegistered = errors.New("device is not registered")

	// ErrRoutesUnavailable is returned by a mutation attempted before any
	// snapshot has populated the device's control routes.
	ErrRoutesUnavailable = errors.New("control routes unavailable: no snapshot observed yet")

	// ErrInvalidRange is returned when a brightness/hue/saturation argument
	// falls outside [0, 1].
	ErrInvalidRange = errors.New("value out of range [0, 1]")

	// ErrUnknownEffect is returned for an effect id that does not parse as
	// auto/scene:<n>/manual:<n>.
	ErrUnknownEffect = errors.New("unknown effect id")

	// ErrTimeout is returned when a snapshot fetch (Controller.GetState)
	// expires before a matching snapshot arrives. Discovery waits that time
	// out return no reply rather than this error.
	ErrTimeout = errors.New("timed out")

	// ErrAlreadyRegistered is returned by Register when the device is
	// already registered.
	ErrAlreadyRegistered = errors.New("device is already registered")
)

// Decode failures, serial mismatches on an adopted IP, and expired fragment
// groups are deliberately absent from this list: those are protocol-level
// conditions that are logged and swallowed, never surfaced to a caller.
