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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncer.io/mysql/go/netbuf"
)

// encodeMessage frames one client message and returns the raw bytes.
func encodeMessage(t *testing.T, msg ClientMessage) []byte {
	t.Helper()
	var out bytes.Buffer
	var seq sequencer
	ew := newEnvelopeWriter(&out, &seq)
	require.NoError(t, msg.writeTo(ew))
	require.NoError(t, ew.flush())
	return out.Bytes()
}

func TestQueryEncoding(t *testing.T) {
	raw := encodeMessage(t, &Query{SQL: "SELECT 1"})
	require.Equal(t, []byte{9, 0, 0, 0, ComQuery, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}, raw)
}

func TestSimpleCommandEncodings(t *testing.T) {
	assert.Equal(t, []byte{1, 0, 0, 0, ComPing}, encodeMessage(t, &Ping{}))
	assert.Equal(t, []byte{1, 0, 0, 0, ComQuit}, encodeMessage(t, &Exit{}))
	assert.Equal(t, []byte{1, 0, 0, 0, ComResetConnection}, encodeMessage(t, &ResetConnection{}))

	raw := encodeMessage(t, &PreparedClose{StatementID: 0x01020304})
	assert.Equal(t, []byte{5, 0, 0, 0, ComStmtClose, 4, 3, 2, 1}, raw)

	raw = encodeMessage(t, &Fetch{StatementID: 7, NumRows: 100})
	assert.Equal(t, []byte{9, 0, 0, 0, ComStmtFetch, 7, 0, 0, 0, 100, 0, 0, 0}, raw)
}

func TestHandshakeResponseLayout(t *testing.T) {
	caps := uint32(CapabilityClientProtocol41 |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData |
		CapabilityClientConnectWithDB)
	msg := &HandshakeResponse{
		Capabilities: caps,
		CollationID:  CharacterSetUtf8mb4,
		User:         "root",
		AuthResponse: []byte{1, 2, 3, 4},
		Database:     "r2dbc",
		AuthPlugin:   MysqlNativePassword,
	}
	raw := encodeMessage(t, msg)

	// Envelope header first.
	length, pos, _ := readUint24(raw, 0)
	require.EqualValues(t, len(raw)-packetHeaderSize, length)
	require.Equal(t, byte(0), raw[3])
	pos = packetHeaderSize

	gotCaps, pos, _ := readUint32(raw, pos)
	assert.Equal(t, caps, gotCaps)
	maxPkt, pos, _ := readUint32(raw, pos)
	assert.EqualValues(t, maxClientPacketSize, maxPkt)
	collation, pos, _ := readByte(raw, pos)
	assert.Equal(t, uint8(CharacterSetUtf8mb4), collation)
	for i := 0; i < 23; i++ {
		assert.Equal(t, byte(0), raw[pos+i])
	}
	pos += 23
	user, pos, _ := readNullString(raw, pos)
	assert.Equal(t, "root", user)
	auth, pos, _ := readLenEncStringAsBytes(raw, pos)
	assert.Equal(t, []byte{1, 2, 3, 4}, auth)
	db, pos, _ := readNullString(raw, pos)
	assert.Equal(t, "r2dbc", db)
	plugin, pos, _ := readNullString(raw, pos)
	assert.Equal(t, string(MysqlNativePassword), plugin)
	assert.Equal(t, len(raw), pos)
}

func TestSslRequestLayout(t *testing.T) {
	raw := encodeMessage(t, &SslRequest{
		Capabilities: CapabilityClientSSL | CapabilityClientProtocol41,
		CollationID:  CharacterSetUtf8mb4,
	})
	// 32 bytes of payload: caps, max packet size, collation, filler.
	require.Len(t, raw, packetHeaderSize+32)
	gotCaps, _, _ := readUint32(raw, packetHeaderSize)
	assert.EqualValues(t, CapabilityClientSSL|CapabilityClientProtocol41, gotCaps)
}

func TestChangeUserLayout(t *testing.T) {
	msg := &ChangeUser{
		User:         "other",
		AuthResponse: []byte{9, 9},
		Database:     "db2",
		CharsetID:    CharacterSetUtf8mb4,
		AuthPlugin:   MysqlNativePassword,
		Capabilities: CapabilityClientPluginAuth,
	}
	raw := encodeMessage(t, msg)
	pos := packetHeaderSize
	require.Equal(t, byte(ComChangeUser), raw[pos])
	pos++
	user, pos, _ := readNullString(raw, pos)
	assert.Equal(t, "other", user)
	n, pos, _ := readByte(raw, pos)
	require.Equal(t, byte(2), n)
	auth, pos, _ := readBytes(raw, pos, 2)
	assert.Equal(t, []byte{9, 9}, auth)
	db, pos, _ := readNullString(raw, pos)
	assert.Equal(t, "db2", db)
	charset, pos, _ := readUint16(raw, pos)
	assert.EqualValues(t, CharacterSetUtf8mb4, charset)
	plugin, _, _ := readNullString(raw, pos)
	assert.Equal(t, string(MysqlNativePassword), plugin)
}

func TestLocalInfileDataFraming(t *testing.T) {
	bufs := []*netbuf.Buffer{
		netbuf.NewBufferBytes([]byte("chunk one,")),
		netbuf.NewBufferBytes([]byte("chunk two")),
	}
	msg := NewLocalInfileData(bufs)
	raw := encodeMessage(t, msg)

	// Two content envelopes followed by the empty terminator.
	var payloads [][]byte
	pos := 0
	for pos < len(raw) {
		length, next, ok := readUint24(raw, pos)
		require.True(t, ok)
		payloads = append(payloads, raw[next+1:next+1+int(length)])
		pos = next + 1 + int(length)
	}
	require.Len(t, payloads, 3)
	assert.Equal(t, []byte("chunk one,"), payloads[0])
	assert.Equal(t, []byte("chunk two"), payloads[1])
	assert.Empty(t, payloads[2])

	// The message disposed its buffers after writing.
	for _, b := range bufs {
		assert.Equal(t, int32(0), b.Refs())
	}
}

func TestLocalInfileDispose(t *testing.T) {
	bufs := []*netbuf.Buffer{netbuf.NewBufferBytes([]byte("x"))}
	msg := NewLocalInfileData(bufs)
	DisposeIfOwned(msg)
	assert.Equal(t, int32(0), bufs[0].Refs())
	// Disposing twice is harmless.
	DisposeIfOwned(msg)
}

func TestOKParsingVariants(t *testing.T) {
	m, err := parseOKPacket(okBytes(ServerStatusAutocommit), CapabilityClientProtocol41)
	require.NoError(t, err)
	assert.False(t, m.EndOfResult())
	assert.Equal(t, uint16(ServerStatusAutocommit), m.StatusFlags)

	m, err = parseOKPacket(okEOFBytes(ServerStatusAutocommit), CapabilityClientProtocol41)
	require.NoError(t, err)
	assert.True(t, m.EndOfResult())

	_, err = parseOKPacket([]byte{0x00, 0x00}, CapabilityClientProtocol41)
	require.Error(t, err)
}
