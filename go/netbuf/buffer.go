/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package netbuf provides reference-counted byte buffers on top of a
// bucketed sync.Pool allocator.
//
// Network payloads are retained exactly once on ingress and must be
// released exactly once, either by the consumer that ends up with them
// or by the discard path when a response stream is cancelled. Release
// past zero panics, as that is always a bug in ownership hand-off.
package netbuf

import (
	"fmt"

	"go.uber.org/atomic"
)

// Buffer is a reference-counted view over a pooled byte slice.
//
// A Buffer starts with a reference count of one. Slices derived with
// Slice share the backing array and pin the parent until released.
type Buffer struct {
	data   []byte
	refs   atomic.Int32
	parent *Buffer

	// raw and pool are set on root pooled buffers only.
	raw  *[]byte
	pool *Pool
}

// Retainable is the subset of Buffer behavior the engine needs when it
// only hands ownership around.
type Retainable interface {
	Retain()
	Release() bool
}

// Allocator hands out reference-counted buffers backed by a bucketed
// pool. The zero Allocator is not usable; use NewAllocator.
type Allocator struct {
	pool *Pool
}

// NewAllocator returns an Allocator with buckets from minSize to
// maxSize bytes.
func NewAllocator(minSize, maxSize int) *Allocator {
	return &Allocator{pool: New(minSize, maxSize)}
}

// Get returns a buffer of len size with a reference count of one.
func (a *Allocator) Get(size int) *Buffer {
	raw := a.pool.Get(size)
	b := &Buffer{data: *raw, raw: raw, pool: a.pool}
	b.refs.Store(1)
	return b
}

// NewBufferBytes wraps an unpooled slice in a Buffer. Used for
// fixtures and for payloads whose storage the caller owns.
func NewBufferBytes(data []byte) *Buffer {
	b := &Buffer{data: data}
	b.refs.Store(1)
	return b
}

// Bytes returns the readable bytes. The slice is valid only while the
// buffer holds at least one reference.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of readable bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Retain increments the reference count.
func (b *Buffer) Retain() {
	if b.refs.Inc() <= 1 {
		panic(fmt.Sprintf("netbuf: retain on released buffer (refs %d)", b.refs.Load()))
	}
}

// Release decrements the reference count, freeing the buffer when it
// reaches zero. It reports whether this call freed the buffer.
// Releasing past zero panics.
func (b *Buffer) Release() bool {
	refs := b.refs.Dec()
	switch {
	case refs > 0:
		return false
	case refs < 0:
		panic(fmt.Sprintf("netbuf: release past zero (refs %d)", refs))
	}
	b.data = nil
	if b.parent != nil {
		b.parent.Release()
		b.parent = nil
		return true
	}
	if b.pool != nil {
		b.pool.Put(b.raw)
		b.raw = nil
		b.pool = nil
	}
	return true
}

// Slice returns a buffer over data[lo:hi] sharing the backing array.
// The parent is retained and released together with the slice.
func (b *Buffer) Slice(lo, hi int) *Buffer {
	if lo < 0 || hi > len(b.data) || lo > hi {
		panic(fmt.Sprintf("netbuf: slice [%d:%d) out of range for %d bytes", lo, hi, len(b.data)))
	}
	b.Retain()
	s := &Buffer{data: b.data[lo:hi], parent: b}
	s.refs.Store(1)
	return s
}

// ReleaseAll releases every buffer in bufs, continuing past panics is
// not attempted; ownership bugs should surface loudly.
func ReleaseAll(bufs []*Buffer) {
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
}

// RetainAll retains every buffer in bufs.
func RetainAll(bufs []*Buffer) {
	for _, b := range bufs {
		if b != nil {
			b.Retain()
		}
	}
}
