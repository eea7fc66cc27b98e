// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package dataio pairs the byte-at-a-time and slice-at-a-time io interfaces
// the wire codecs read and write through, with adapters for streams that
// only implement one of the pair.
package dataio

import "io"

// Reader reads both single bytes and byte slices.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Writer writes both single bytes and byte slices.
type Writer interface {
	io.Writer
	io.ByteWriter
}

// MakeReader adapts r into a Reader, wrapping it only when it doesn't
// already implement ReadByte.
func MakeReader(r io.Reader) Reader {
	if dr, ok := r.(Reader); ok {
		return dr
	}
	return byteReader{r}
}

// MakeWriter adapts w into a Writer, wrapping it only when it doesn't
// already implement WriteByte.
func MakeWriter(w io.Writer) Writer {
	if dw, ok := w.(Writer); ok {
		return dw
	}
	return byteWriter{w}
}

type byteReader struct {
	io.Reader
}

func (r byteReader) ReadByte() (byte, error) {
	var d [1]byte
	n, err := r.Read(d[:])
	if n == 1 {
		return d[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

type byteWriter struct {
	io.Writer
}

func (w byteWriter) WriteByte(c byte) error {
	d := [1]byte{c}
	n, err := w.Write(d[:])
	if err == nil && n != 1 {
		return io.ErrShortWrite
	}
	return err
}
