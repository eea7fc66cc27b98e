// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package byteslicereader provides R, a reader over an in-memory byte slice
// used to walk a received datagram during wire decoding.
//
// R implements io.Reader and io.ByteReader for compatibility with generic
// decoding code, and adds Next, which returns a window of the backing slice
// without copying. Slices returned by Next alias the backing buffer and are
// only valid for as long as it is.
package byteslicereader

import "io"

// R reads through Buffer from the front. The zero value with Buffer set is
// ready to use; copying an R snapshots its position.
type R struct {
	// Buffer is the slice being read.
	Buffer []byte

	pos int
}

var _ interface {
	io.Reader
	io.ByteReader
} = (*R)(nil)

// Remaining returns the number of unread bytes.
func (r *R) Remaining() int {
	if r.pos >= len(r.Buffer) {
		return 0
	}
	return len(r.Buffer) - r.pos
}

// Read implements io.Reader, copying unread bytes into b. It returns io.EOF
// alongside the final bytes once the buffer is exhausted.
func (r *R) Read(b []byte) (int, error) {
	if r.pos >= len(r.Buffer) {
		return 0, io.EOF
	}

	n := copy(b, r.Buffer[r.pos:])
	r.pos += n
	if r.pos >= len(r.Buffer) {
		return n, io.EOF
	}
	return n, nil
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (byte, error) {
	if r.pos >= len(r.Buffer) {
		return 0, io.EOF
	}

	b := r.Buffer[r.pos]
	r.pos++
	return b, nil
}

// Next returns the next n unread bytes as a window of the backing slice,
// advancing past them. If fewer than n bytes remain, Next returns what is
// left along with io.EOF.
func (r *R) Next(n int) ([]byte, error) {
	var err error
	v := r.Buffer[len(r.Buffer):]
	if r.pos < len(r.Buffer) {
		v = r.Buffer[r.pos:]
	}
	if n <= len(v) {
		v = v[:n]
	} else {
		err = io.EOF
	}

	r.pos += len(v)
	return v, err
}
