// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"math"

	"github.com/koiosdigital/pixelair-go/support/byteslicereader"
	"github.com/koiosdigital/pixelair-go/support/dataio"

	"github.com/pkg/errors"
)

// paramTag identifies the type of a single Command parameter on the wire.
type paramTag byte

const (
	paramTagInt32   paramTag = 'i'
	paramTagFloat32 paramTag = 'f'
	paramTagString  paramTag = 's'
	paramTagBool    paramTag = 'b'
)

// Param is a single typed argument of a Command. Exactly one field is
// meaningful, as indicated by its tag; construct one with Int, Float, Str,
// or Bool.
type Param struct {
	tag paramTag
	i   int32
	f   float32
	s   string
	b   bool
}

// Int returns a Param carrying a signed 32-bit integer.
func Int(v int32) Param { return Param{tag: paramTagInt32, i: v} }

// Float returns a Param carrying a 32-bit float.
func Float(v float32) Param { return Param{tag: paramTagFloat32, f: v} }

// Str returns a Param carrying a string.
func Str(v string) Param { return Param{tag: paramTagString, s: v} }

// Bool returns a Param carrying a boolean, encoded on the wire as an int32
// 0 or 1.
func Bool(v bool) Param { return Param{tag: paramTagBool, b: v} }

// Command is a control datagram: an OSC-like route string followed by a
// tagged-union list of typed parameters.
type Command struct {
	// Route is the OSC-style path identifying the command, e.g.
	// "/setBrightness".
	Route string

	// Params are the command's arguments, in order.
	Params []Param
}

// Encode renders c as its wire datagram.
func Encode(c Command) ([]byte, error) {
	var buf sliceWriter
	w := dataio.MakeWriter(&buf)

	if err := writeCString(w, c.Route); err != nil {
		return nil, errors.Wrap(err, "writing route")
	}
	if err := w.WriteByte(byte(len(c.Params))); err != nil {
		return nil, errors.Wrap(err, "writing param count")
	}

	for i, p := range c.Params {
		if err := writeParam(w, p); err != nil {
			return nil, errors.Wrapf(err, "writing param %d", i)
		}
	}

	return buf.bytes, nil
}

func writeParam(w dataio.Writer, p Param) error {
	if err := w.WriteByte(byte(p.tag)); err != nil {
		return err
	}

	switch p.tag {
	case paramTagInt32:
		return writeUint32(w, uint32(p.i))
	case paramTagFloat32:
		return writeUint32(w, math.Float32bits(p.f))
	case paramTagString:
		return writeCString(w, p.s)
	case paramTagBool:
		v := uint32(0)
		if p.b {
			v = 1
		}
		return writeUint32(w, v)
	default:
		return errors.Errorf("unknown parameter tag %q", p.tag)
	}
}

func writeUint32(w dataio.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// writeCString writes s followed by a single NUL terminator.
func writeCString(w dataio.Writer, s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	return w.WriteByte(0)
}

// Decode parses datagram as a Command.
func Decode(datagram []byte) (Command, error) {
	r := dataio.MakeReader(&byteslicereader.R{Buffer: datagram})

	route, err := readCString(r)
	if err != nil {
		return Command{}, errors.Wrap(err, "reading route")
	}

	count, err := r.ReadByte()
	if err != nil {
		return Command{}, errors.Wrap(err, "reading param count")
	}

	params := make([]Param, 0, count)
	for i := 0; i < int(count); i++ {
		p, err := readParam(r)
		if err != nil {
			return Command{}, errors.Wrapf(err, "reading param %d", i)
		}
		params = append(params, p)
	}

	return Command{Route: route, Params: params}, nil
}

func readParam(r dataio.Reader) (Param, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Param{}, err
	}

	switch paramTag(tagByte) {
	case paramTagInt32:
		v, err := readUint32(r)
		if err != nil {
			return Param{}, err
		}
		return Int(int32(v)), nil

	case paramTagFloat32:
		v, err := readUint32(r)
		if err != nil {
			return Param{}, err
		}
		return Float(math.Float32frombits(v)), nil

	case paramTagString:
		s, err := readCString(r)
		if err != nil {
			return Param{}, err
		}
		return Str(s), nil

	case paramTagBool:
		v, err := readUint32(r)
		if err != nil {
			return Param{}, err
		}
		return Bool(v != 0), nil

	default:
		return Param{}, errors.Errorf("unknown parameter tag %q", tagByte)
	}
}

func readUint32(r dataio.Reader) (uint32, error) {
	var b [4]byte
	for i := range b {
		v, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		b[i] = v
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// readCString reads bytes until (and consuming) a NUL terminator.
func readCString(r dataio.Reader) (string, error) {
	var sb []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(sb), nil
		}
		sb = append(sb, b)
	}
}

// sliceWriter is a minimal io.Writer over a growable byte slice.
type sliceWriter struct {
	bytes []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.bytes = append(w.bytes, p...)
	return len(p), nil
}
