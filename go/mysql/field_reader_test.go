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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncer.io/mysql/go/netbuf"
)

func buffersOf(chunks ...[]byte) []*netbuf.Buffer {
	out := make([]*netbuf.Buffer, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, netbuf.NewBufferBytes(c))
	}
	return out
}

func TestNormalFieldReaderSingleBuffer(t *testing.T) {
	// A row with two length-encoded fields: "1" and "abc".
	bufs := buffersOf([]byte{1, '1', 3, 'a', 'b', 'c'})
	r := NewFieldReader(bufs)
	require.IsType(t, &normalFieldReader{}, r)

	b, err := r.PeekByte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)

	v1, err := r.ReadVarIntSizedField()
	require.NoError(t, err)
	assert.Equal(t, []byte{'1'}, v1.Bytes())
	assert.False(t, v1.IsLarge())

	v2, err := r.ReadVarIntSizedField()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v2.Bytes())

	_, err = r.PeekByte()
	require.Error(t, err)

	// Values outlive the reader; releasing everything frees the
	// underlying buffer exactly once.
	require.True(t, r.Release())
	assert.Equal(t, []byte("abc"), v2.Bytes())
	v1.Release()
	v2.Release()
	assert.Equal(t, int32(0), bufs[0].Refs())
}

func TestNormalFieldReaderAcrossBuffers(t *testing.T) {
	// A field whose varint prefix and payload straddle buffer
	// boundaries: 0xfc 0x0004 = 4 bytes, "wxyz".
	bufs := buffersOf(
		[]byte{0xfc, 0x04},
		[]byte{0x00, 'w', 'x'},
		[]byte{'y', 'z', 0x01, 'q'},
	)
	r := NewFieldReader(bufs)

	v, err := r.ReadVarIntSizedField()
	require.NoError(t, err)
	assert.Equal(t, []byte("wxyz"), v.Bytes())
	require.Len(t, v.Buffers(), 2)

	v2, err := r.ReadVarIntSizedField()
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), v2.Bytes())

	r.Release()
	v.Release()
	v2.Release()
	for _, b := range bufs {
		assert.Equal(t, int32(0), b.Refs())
	}
}

func TestFieldReaderFixedReads(t *testing.T) {
	bufs := buffersOf([]byte{10, 20}, []byte{30, 40, 50})
	r := NewFieldReader(bufs)
	defer r.Release()

	require.NoError(t, r.SkipOneByte())
	got, err := r.ReadSizeFixedBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{20, 30, 40}, got)

	v, err := r.ReadSizeFixedField(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{50}, v.Bytes())
	v.Release()

	_, err = r.ReadSizeFixedBytes(1)
	require.Error(t, err)
}

func TestLargeFieldReader(t *testing.T) {
	// Exercised directly: the mode is selected by total size in
	// production (beyond 2^31-1 bytes), which a unit test cannot
	// afford to allocate.
	bufs := buffersOf(
		[]byte{0xfc, 0x05, 0x00, 'a'},
		[]byte{'b', 'c'},
		[]byte{'d', 'e', 2, 'f', 'g'},
	)
	r := newLargeFieldReader(bufs)

	v, err := r.ReadVarIntSizedField()
	require.NoError(t, err)
	assert.EqualValues(t, 5, v.Len())
	require.Len(t, v.Buffers(), 3)
	assert.Equal(t, []byte("abcde"), v.Bytes())

	b, err := r.PeekByte()
	require.NoError(t, err)
	assert.Equal(t, byte(2), b)

	fixed, err := r.ReadSizeFixedBytes(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, fixed)

	v2, err := r.ReadSizeFixedField(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("fg"), v2.Bytes())

	// Oversized fixed reads are refused in large mode.
	_, err = r.ReadSizeFixedBytes(maxLargeFixedRead + 1)
	require.Error(t, err)

	r.Release()
	v.Release()
	v2.Release()
	for _, b := range bufs {
		assert.Equal(t, int32(0), b.Refs(), "buffer leaked")
	}
}

func TestFieldValueNull(t *testing.T) {
	v := NullFieldValue()
	assert.True(t, v.IsNull())
	assert.Nil(t, v.Buffers())
	// NULL is shared; retain/release are no-ops.
	v.Retain()
	assert.False(t, v.Release())
	assert.False(t, v.Release())
}

func TestFieldValueReleaseExactlyOnce(t *testing.T) {
	bufs := buffersOf([]byte{1, 2, 3, 4})
	r := NewFieldReader(bufs)

	v, err := r.ReadSizeFixedField(4)
	require.NoError(t, err)
	v.Retain()
	require.False(t, v.Release())
	require.True(t, r.Release())
	require.True(t, v.Release())

	assert.Equal(t, int32(0), bufs[0].Refs())
	assert.Panics(t, func() { v.Release() })
}

func TestVarIntPrefixNull(t *testing.T) {
	r := NewFieldReader(buffersOf([]byte{0xfb}))
	defer r.Release()
	_, err := r.ReadVarIntSizedField()
	require.Error(t, err)
}
