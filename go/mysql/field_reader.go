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
	"math"

	"go.uber.org/atomic"

	"asyncer.io/mysql/go/netbuf"
)

// FieldValue is one column value cut out of a row's logical packet. It
// is either NULL or a list of buffer slices sharing storage with the
// source envelopes. Values are reference-counted; the last release
// frees the underlying buffers.
type FieldValue struct {
	bufs  []*netbuf.Buffer
	large bool
	refs  atomic.Int32
}

// nullFieldValue is shared; Retain/Release on it are no-ops.
var nullFieldValue = &FieldValue{}

// NullFieldValue returns the NULL value.
func NullFieldValue() *FieldValue { return nullFieldValue }

func newFieldValue(bufs []*netbuf.Buffer, large bool) *FieldValue {
	v := &FieldValue{bufs: bufs, large: large}
	v.refs.Store(1)
	return v
}

// IsNull reports whether the value is NULL.
func (v *FieldValue) IsNull() bool { return v == nullFieldValue }

// IsLarge reports whether the value exceeds 2^31-1 bytes and therefore
// cannot be flattened into one slice.
func (v *FieldValue) IsLarge() bool { return v.large }

// Buffers returns the ordered buffer list backing the value. NULL has
// none. The slice is valid while the value holds a reference.
func (v *FieldValue) Buffers() []*netbuf.Buffer { return v.bufs }

// Len returns the total byte size of the value.
func (v *FieldValue) Len() int64 {
	var n int64
	for _, b := range v.bufs {
		n += int64(b.Len())
	}
	return n
}

// Bytes flattens a non-large value into one slice. For a single
// backing buffer no copy is made. Panics on a Large value; stream
// those buffer by buffer instead.
func (v *FieldValue) Bytes() []byte {
	if v.large {
		panic("mysql: Bytes on a large field value")
	}
	switch len(v.bufs) {
	case 0:
		return nil
	case 1:
		return v.bufs[0].Bytes()
	}
	out := make([]byte, 0, v.Len())
	for _, b := range v.bufs {
		out = append(out, b.Bytes()...)
	}
	return out
}

// Retain increments the reference count.
func (v *FieldValue) Retain() {
	if v == nullFieldValue {
		return
	}
	v.refs.Inc()
}

// Release decrements the reference count, releasing the underlying
// buffers exactly once when it reaches zero.
func (v *FieldValue) Release() bool {
	if v == nullFieldValue {
		return false
	}
	refs := v.refs.Dec()
	if refs > 0 {
		return false
	}
	if refs < 0 {
		panic("mysql: field value released past zero")
	}
	netbuf.ReleaseAll(v.bufs)
	v.bufs = nil
	return true
}

// FieldReader streams column values out of one logical packet. Two
// modes exist: normal, for packets of at most 2^31-1 bytes, with a
// single cursor over a composite view; and large, for anything bigger,
// with a (buffer, offset) cursor. Values read out of it share storage
// with the packet and survive the reader's release.
//
// A FieldReader is itself reference-counted; releasing the last
// reference releases every underlying buffer exactly once.
type FieldReader interface {
	// PeekByte returns the byte under the cursor without advancing.
	PeekByte() (byte, error)

	// SkipOneByte advances the cursor past one byte.
	SkipOneByte() error

	// ReadSizeFixedBytes reads length bytes into a fresh byte slice.
	// length must be positive and, in large mode, is refused beyond
	// an in-memory-sane bound; large consumers read fields instead.
	ReadSizeFixedBytes(length int) ([]byte, error)

	// ReadSizeFixedField reads length bytes as a FieldValue without
	// copying.
	ReadSizeFixedField(length int64) (*FieldValue, error)

	// ReadVarIntSizedField reads a length-encoded field: a varint
	// size prefix followed by that many payload bytes.
	ReadVarIntSizedField() (*FieldValue, error)

	// Retain/Release manage the reader's reference count; retaining
	// the reader transitively retains the underlying buffers.
	Retain()
	Release() bool
}

// NewFieldReader wraps one logical packet. Ownership of the buffer
// references transfers to the reader.
func NewFieldReader(bufs []*netbuf.Buffer) FieldReader {
	var total int64
	for _, b := range bufs {
		total += int64(b.Len())
		if total > math.MaxInt32 {
			return newLargeFieldReader(bufs)
		}
	}
	return newNormalFieldReader(bufs)
}

// baseFieldReader carries the shared refcount and buffer list.
type baseFieldReader struct {
	bufs []*netbuf.Buffer
	refs atomic.Int32
}

func (r *baseFieldReader) Retain() {
	r.refs.Inc()
}

func (r *baseFieldReader) Release() bool {
	refs := r.refs.Dec()
	if refs > 0 {
		return false
	}
	if refs < 0 {
		panic("mysql: field reader released past zero")
	}
	netbuf.ReleaseAll(r.bufs)
	r.bufs = nil
	return true
}

// normalFieldReader composites the buffer list into one logical view
// with a single int cursor. ends[i] is the cumulative size through
// buffer i.
type normalFieldReader struct {
	baseFieldReader
	ends []int
	pos  int
}

func newNormalFieldReader(bufs []*netbuf.Buffer) *normalFieldReader {
	ends := make([]int, len(bufs))
	total := 0
	for i, b := range bufs {
		total += b.Len()
		ends[i] = total
	}
	r := &normalFieldReader{ends: ends}
	r.bufs = bufs
	r.refs.Store(1)
	return r
}

func (r *normalFieldReader) size() int {
	if len(r.ends) == 0 {
		return 0
	}
	return r.ends[len(r.ends)-1]
}

// locate maps the flat position to (buffer index, offset).
func (r *normalFieldReader) locate(pos int) (int, int) {
	idx := 0
	for r.ends[idx] <= pos {
		idx++
	}
	start := 0
	if idx > 0 {
		start = r.ends[idx-1]
	}
	return idx, pos - start
}

func (r *normalFieldReader) PeekByte() (byte, error) {
	if r.pos >= r.size() {
		return 0, errProtocol("field reader exhausted at %v", r.pos)
	}
	idx, off := r.locate(r.pos)
	return r.bufs[idx].Bytes()[off], nil
}

func (r *normalFieldReader) SkipOneByte() error {
	if r.pos >= r.size() {
		return errProtocol("field reader exhausted at %v", r.pos)
	}
	r.pos++
	return nil
}

func (r *normalFieldReader) ReadSizeFixedBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errProtocol("fixed read of %v bytes", length)
	}
	if r.pos+length > r.size() {
		return nil, errProtocol("fixed read of %v bytes with %v available", length, r.size()-r.pos)
	}
	out := make([]byte, 0, length)
	idx, off := r.locate(r.pos)
	for len(out) < length {
		data := r.bufs[idx].Bytes()[off:]
		need := length - len(out)
		if len(data) > need {
			data = data[:need]
		}
		out = append(out, data...)
		idx++
		off = 0
	}
	r.pos += length
	return out, nil
}

func (r *normalFieldReader) ReadSizeFixedField(length int64) (*FieldValue, error) {
	if length <= 0 || length > int64(r.size()-r.pos) {
		return nil, errProtocol("field read of %v bytes with %v available", length, r.size()-r.pos)
	}
	bufs := sliceSpan(r.bufs, r.ends, r.pos, int(length))
	r.pos += int(length)
	return newFieldValue(bufs, false), nil
}

func (r *normalFieldReader) ReadVarIntSizedField() (*FieldValue, error) {
	size, err := readVarIntPrefix(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return newFieldValue(nil, false), nil
	}
	return r.ReadSizeFixedField(int64(size))
}

// sliceSpan cuts [pos, pos+length) out of the composite view as buffer
// slices, retaining each touched buffer.
func sliceSpan(bufs []*netbuf.Buffer, ends []int, pos, length int) []*netbuf.Buffer {
	var out []*netbuf.Buffer
	remaining := length
	for idx := range bufs {
		if ends[idx] <= pos {
			continue
		}
		start := 0
		if idx > 0 {
			start = ends[idx-1]
		}
		lo := pos - start
		hi := bufs[idx].Len()
		if hi-lo > remaining {
			hi = lo + remaining
		}
		out = append(out, bufs[idx].Slice(lo, hi))
		remaining -= hi - lo
		pos += hi - lo
		if remaining == 0 {
			break
		}
	}
	return out
}

// largeFieldReader keeps the original buffer array and a
// (buffer index, offset) cursor. Totals beyond 2^31-1 bytes never get
// flattened; consumers read FieldValues that reference spans across
// the buffers without copying.
type largeFieldReader struct {
	baseFieldReader
	idx int
	off int
}

// maxLargeFixedRead bounds ReadSizeFixedBytes in large mode. Metadata
// reads are tiny; anything bigger must go through ReadSizeFixedField.
const maxLargeFixedRead = 1 << 20

func newLargeFieldReader(bufs []*netbuf.Buffer) *largeFieldReader {
	r := &largeFieldReader{}
	r.bufs = bufs
	r.refs.Store(1)
	return r
}

// normalizeCursor moves the cursor past exhausted buffers.
func (r *largeFieldReader) normalizeCursor() {
	for r.idx < len(r.bufs) && r.off >= r.bufs[r.idx].Len() {
		r.idx++
		r.off = 0
	}
}

func (r *largeFieldReader) remaining() int64 {
	r.normalizeCursor()
	var n int64
	for i := r.idx; i < len(r.bufs); i++ {
		n += int64(r.bufs[i].Len())
	}
	return n - int64(r.off)
}

func (r *largeFieldReader) PeekByte() (byte, error) {
	r.normalizeCursor()
	if r.idx >= len(r.bufs) {
		return 0, errProtocol("field reader exhausted")
	}
	return r.bufs[r.idx].Bytes()[r.off], nil
}

func (r *largeFieldReader) SkipOneByte() error {
	r.normalizeCursor()
	if r.idx >= len(r.bufs) {
		return errProtocol("field reader exhausted")
	}
	r.off++
	return nil
}

func (r *largeFieldReader) ReadSizeFixedBytes(length int) ([]byte, error) {
	if length <= 0 || length > maxLargeFixedRead {
		return nil, errProtocol("fixed read of %v bytes in large mode", length)
	}
	if int64(length) > r.remaining() {
		return nil, errProtocol("fixed read of %v bytes with %v available", length, r.remaining())
	}
	out := make([]byte, 0, length)
	for len(out) < length {
		r.normalizeCursor()
		data := r.bufs[r.idx].Bytes()[r.off:]
		need := length - len(out)
		if len(data) > need {
			data = data[:need]
		}
		out = append(out, data...)
		r.off += len(data)
	}
	return out, nil
}

func (r *largeFieldReader) ReadSizeFixedField(length int64) (*FieldValue, error) {
	if length <= 0 || length > r.remaining() {
		return nil, errProtocol("field read of %v bytes with %v available", length, r.remaining())
	}
	var out []*netbuf.Buffer
	remaining := length
	for remaining > 0 {
		r.normalizeCursor()
		buf := r.bufs[r.idx]
		lo := r.off
		hi := buf.Len()
		if int64(hi-lo) > remaining {
			hi = lo + int(remaining)
		}
		out = append(out, buf.Slice(lo, hi))
		remaining -= int64(hi - lo)
		r.off = hi
	}
	return newFieldValue(out, length > math.MaxInt32), nil
}

func (r *largeFieldReader) ReadVarIntSizedField() (*FieldValue, error) {
	size, err := readVarIntPrefix(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return newFieldValue(nil, false), nil
	}
	return r.ReadSizeFixedField(int64(size))
}

// byteScanner is the subset both readers implement for the varint
// prefix, which may straddle buffer boundaries.
type byteScanner interface {
	PeekByte() (byte, error)
	SkipOneByte() error
}

// readVarIntPrefix decodes the MySQL length prefix (1, 3, 4 or 9
// bytes) one byte at a time.
func readVarIntPrefix(r byteScanner) (uint64, error) {
	first, err := takeByte(r)
	if err != nil {
		return 0, err
	}
	var extra int
	switch first {
	case 0xfc:
		extra = 2
	case 0xfd:
		extra = 3
	case 0xfe:
		extra = 8
	case 0xfb:
		return 0, errProtocol("NULL has no field payload")
	default:
		return uint64(first), nil
	}
	var v uint64
	for i := 0; i < extra; i++ {
		b, err := takeByte(r)
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

func takeByte(r byteScanner) (byte, error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, err
	}
	if err := r.SkipOneByte(); err != nil {
		return 0, err
	}
	return b, nil
}
