// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool recycles fixed-size byte buffers. The reassembler holds
// one buffer per in-flight fragment, so sustained snapshot traffic would
// otherwise allocate a fresh slice for every datagram.
package bufferpool

import "sync"

// Pool hands out fixed-size Buffers, reusing released ones.
//
// The zero value with Size set is ready to use.
type Pool struct {
	// Size is the capacity, in bytes, of every Buffer this Pool produces.
	Size int

	base sync.Pool
}

// Get returns a Buffer whose length is the Pool's full Size. Callers
// typically copy data in and then Truncate to the copied length.
//
// The Buffer must be handed back with Release exactly once when the caller
// is done with it; failing to Release only forfeits reuse, never leaks.
func (p *Pool) Get() *Buffer {
	b, ok := p.base.Get().(*Buffer)
	if !ok {
		b = &Buffer{data: make([]byte, p.Size)}
	}
	b.pool = p
	b.n = len(b.data)
	return b
}

// Buffer is one pooled byte buffer.
type Buffer struct {
	data []byte
	n    int
	pool *Pool
}

// Bytes returns the buffer's contents up to its current length.
//
// The returned slice aliases the pooled storage: it must not be used after
// Release.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Len returns the buffer's current length.
func (b *Buffer) Len() int { return b.n }

// Truncate caps the length reported by Bytes and Len.
func (b *Buffer) Truncate(n int) {
	if n >= 0 && n <= len(b.data) {
		b.n = n
	}
}

// Release returns the buffer to its Pool. The buffer must not be touched
// afterward.
func (b *Buffer) Release() {
	pool := b.pool
	if pool == nil {
		return
	}
	b.pool = nil
	pool.base.Put(b)
}
