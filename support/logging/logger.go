// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging defines the narrow logging facade the engine emits
// diagnostics through.
package logging

// L is the leveled, formatted logging surface the engine's components write
// to. The method set is a subset of zap's SugaredLogger, so a
// *zap.SugaredLogger satisfies it directly; any logger with printf-style
// leveled methods will too.
type L interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Nop discards everything written to it.
var Nop L = nop{}

// Must returns l, or Nop when l is nil, so components can log through an
// optional logger field without nil checks at every call site.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

type nop struct{}

func (nop) Errorf(string, ...interface{}) {}
func (nop) Warnf(string, ...interface{})  {}
func (nop) Infof(string, ...interface{})  {}
func (nop) Debugf(string, ...interface{}) {}
