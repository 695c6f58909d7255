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

package mysql

import (
	"bufio"
	"io"
	"sync"

	"go.uber.org/atomic"

	"asyncer.io/mysql/go/netbuf"
)

// An envelope is the MySQL framing unit: a 3-byte little-endian payload
// length, a 1-byte sequence id, and the payload. A payload of exactly
// MaxPacketSize continues in the next envelope; the logical packet ends
// at the first envelope with a shorter payload.

const (
	// packetHeaderSize is the envelope header: uint24 length + uint8 seq.
	packetHeaderSize = 4

	// connBufferSize is how much we buffer for reading and writing.
	connBufferSize = 16 * 1024
)

// sequencer tracks the envelope sequence id of one request/response
// cycle. The writer takes ids from it, the slicer verifies against it,
// and the codec resets it at each exchange boundary. The write and
// read loops alternate strictly within a cycle, but the reset happens
// on the write side, so the counter is atomic.
type sequencer struct {
	id atomic.Uint32
}

func (s *sequencer) reset() {
	s.id.Store(0)
}

// next returns the id to stamp on the next outbound envelope.
func (s *sequencer) next() uint8 {
	return uint8(s.id.Inc() - 1)
}

// check verifies an inbound envelope's id is the expected one.
func (s *sequencer) check(id uint8) error {
	want := uint8(s.id.Load())
	if id != want {
		return errProtocol("invalid sequence id %v, expected %v", id, want)
	}
	s.id.Inc()
	return nil
}

// Writer side.
// This writer gets *bufio.Writer from pool on Write if it has no one already and
// puts it back in pool on Flush(). The engine flushes after each outbound
// message, so every *bufio.Writer returns to the pool eventually.

var writersPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, connBufferSize) }}

type bufioWriter interface {
	Write([]byte) (int, error)
	Reset(io.Writer)
	Flush() error
}

type poolBufioWriter struct {
	w  io.Writer
	bw *bufio.Writer
}

func newWriter(w io.Writer) bufioWriter {
	return &poolBufioWriter{
		w: w,
	}
}

func (pbw *poolBufioWriter) getWriter() {
	if pbw.bw != nil {
		return
	}
	pbw.bw = writersPool.Get().(*bufio.Writer)
	pbw.bw.Reset(pbw.w)
}

func (pbw *poolBufioWriter) putWriter() {
	if pbw.bw == nil {
		return
	}
	// remove reference
	pbw.bw.Reset(nil)
	writersPool.Put(pbw.bw)
	pbw.bw = nil
}

func (pbw *poolBufioWriter) Write(b []byte) (int, error) {
	pbw.getWriter()
	return pbw.bw.Write(b)
}

func (pbw *poolBufioWriter) Reset(w io.Writer) {
	pbw.putWriter()
	pbw.w = w
}

func (pbw *poolBufioWriter) Flush() error {
	if pbw.bw == nil {
		return nil
	}
	err := pbw.bw.Flush()
	pbw.putWriter()
	return err
}

// envelopeWriter frames payloads into envelopes. Payloads longer than
// MaxPacketSize are split; a payload that is an exact multiple of
// MaxPacketSize is terminated with a zero-length envelope.
type envelopeWriter struct {
	bw  bufioWriter
	seq *sequencer

	header [packetHeaderSize]byte
}

func newEnvelopeWriter(w io.Writer, seq *sequencer) *envelopeWriter {
	return &envelopeWriter{
		bw:  newWriter(w),
		seq: seq,
	}
}

// reset swaps the underlying writer, used when TLS is spliced in.
func (ew *envelopeWriter) reset(w io.Writer) {
	ew.bw.Reset(w)
}

// writePayload frames data and buffers it. The caller owns data.
func (ew *envelopeWriter) writePayload(data []byte) error {
	for {
		chunk := data
		if len(chunk) > MaxPacketSize {
			chunk = data[:MaxPacketSize]
		}
		writeUint24(ew.header[:], 0, uint32(len(chunk)))
		ew.header[3] = ew.seq.next()
		if _, err := ew.bw.Write(ew.header[:]); err != nil {
			return wrapError(err)
		}
		if _, err := ew.bw.Write(chunk); err != nil {
			return wrapError(err)
		}
		data = data[len(chunk):]
		if len(chunk) < MaxPacketSize {
			return nil
		}
		// A maximum-length envelope continues, possibly with a
		// zero-length terminator.
	}
}

// flush pushes buffered envelopes onto the wire.
func (ew *envelopeWriter) flush() error {
	if err := ew.bw.Flush(); err != nil {
		return wrapError(err)
	}
	return nil
}

// Reader side.

// envelopeSlicer reassembles envelopes from the raw byte stream and
// joins continued envelopes into logical packets. Payload storage comes
// from the allocator and is handed downstream with a reference count of
// one; the slicer itself keeps nothing after emission.
type envelopeSlicer struct {
	br    *bufio.Reader
	alloc *netbuf.Allocator
	seq   *sequencer

	header [packetHeaderSize]byte
}

func newEnvelopeSlicer(r io.Reader, alloc *netbuf.Allocator, seq *sequencer) *envelopeSlicer {
	return &envelopeSlicer{
		br:    bufio.NewReaderSize(r, connBufferSize),
		alloc: alloc,
		seq:   seq,
	}
}

// reset swaps the underlying reader, used when TLS is spliced in. Any
// buffered cleartext bytes are discarded; the upgrade happens at an
// envelope boundary so there are none.
func (es *envelopeSlicer) reset(r io.Reader) {
	es.br.Reset(r)
}

// nextEnvelope reads one envelope and returns its payload with a
// reference count of one.
func (es *envelopeSlicer) nextEnvelope() (*netbuf.Buffer, error) {
	if _, err := io.ReadFull(es.br, es.header[:]); err != nil {
		return nil, wrapError(err)
	}
	length, _, _ := readUint24(es.header[:], 0)
	if err := es.seq.check(es.header[3]); err != nil {
		return nil, err
	}
	buf := es.alloc.Get(int(length))
	if length == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(es.br, buf.Bytes()); err != nil {
		buf.Release()
		return nil, wrapError(err)
	}
	return buf, nil
}

// nextLogicalPacket reads envelopes until one with a payload shorter
// than MaxPacketSize and returns the ordered payload list. The combined
// size may exceed 2 GiB; no copy is made. On error every buffer read so
// far is released.
func (es *envelopeSlicer) nextLogicalPacket() ([]*netbuf.Buffer, error) {
	var bufs []*netbuf.Buffer
	for {
		buf, err := es.nextEnvelope()
		if err != nil {
			netbuf.ReleaseAll(bufs)
			return nil, err
		}
		bufs = append(bufs, buf)
		if buf.Len() < MaxPacketSize {
			return bufs, nil
		}
	}
}
