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

// testGreetingCapabilities matches a stock 5.7 server advertisement.
const testGreetingCapabilities = uint32(0xFFFFF7FF)

func lenc(s string) []byte {
	data := make([]byte, lenEncStringSize(s))
	writeLenEncString(data, 0, s)
	return data
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// greetingBytes builds a protocol-10 initial handshake packet.
func greetingBytes(version string, connID uint32, salt []byte, caps uint32) []byte {
	out := []byte{protocolVersion}
	out = append(out, version...)
	out = append(out, 0)
	var id [4]byte
	writeUint32(id[:], 0, connID)
	out = append(out, id[:]...)
	out = append(out, salt[:8]...)
	out = append(out, 0) // filler
	var capLow [2]byte
	writeUint16(capLow[:], 0, uint16(caps))
	out = append(out, capLow[:]...)
	out = append(out, 8) // character set
	var status [2]byte
	writeUint16(status[:], 0, ServerStatusAutocommit)
	out = append(out, status[:]...)
	var capHigh [2]byte
	writeUint16(capHigh[:], 0, uint16(caps>>16))
	out = append(out, capHigh[:]...)
	out = append(out, byte(len(salt)+1)) // auth-plugin-data length
	out = append(out, make([]byte, 10)...)
	out = append(out, salt[8:]...)
	out = append(out, 0)
	out = append(out, MysqlNativePassword...)
	out = append(out, 0)
	return out
}

func okBytes(status uint16) []byte {
	return []byte{0x00, 0x00, 0x00, byte(status), byte(status >> 8), 0x00, 0x00}
}

func okEOFBytes(status uint16) []byte {
	return []byte{0xfe, 0x00, 0x00, byte(status), byte(status >> 8), 0x00, 0x00}
}

func eofBytes(status uint16) []byte {
	return []byte{0xfe, 0x00, 0x00, byte(status), byte(status >> 8)}
}

func errBytes(code uint16, state, msg string) []byte {
	out := []byte{0xff, byte(code), byte(code >> 8), '#'}
	out = append(out, state...)
	out = append(out, msg...)
	return out
}

func coldefBytes(name string) []byte {
	fixed := make([]byte, 11)
	pos := writeByte(fixed, 0, 0x0c)
	pos = writeUint16(fixed, pos, CharacterSetUtf8)
	pos = writeUint32(fixed, pos, 20)
	pos = writeByte(fixed, pos, 0xfd) // VAR_STRING
	pos = writeUint16(fixed, pos, 0)
	writeByte(fixed, pos, 0)
	return cat(
		lenc("def"), lenc("db"), lenc("t"), lenc("t"),
		lenc(name), lenc(name),
		fixed,
		[]byte{0, 0}, // filler
	)
}

func newTestCodec(caps uint32) *duplexCodec {
	ctx := newConnectionContext()
	ctx.Capabilities = caps
	var seq sequencer
	return newDuplexCodec(ctx, &seq)
}

func decodeBytes(t *testing.T, c *duplexCodec, data []byte) ServerMessage {
	t.Helper()
	msg, err := c.decode([]*netbuf.Buffer{netbuf.NewBufferBytes(data)})
	require.NoError(t, err)
	return msg
}

func TestDecodeGreeting(t *testing.T) {
	c := newTestCodec(0)
	salt := make([]byte, 20)
	for i := range salt {
		salt[i] = byte(i + 1)
	}

	msg := decodeBytes(t, c, greetingBytes("5.7.40", 42, salt, testGreetingCapabilities))
	g, ok := msg.(*HandshakeGreeting)
	require.True(t, ok)
	assert.Equal(t, "5.7.40", g.ServerVersion)
	assert.Equal(t, uint32(42), g.ConnectionID)
	assert.Equal(t, testGreetingCapabilities, g.Capabilities)
	assert.Equal(t, salt, g.AuthData)
	assert.Equal(t, MysqlNativePassword, g.AuthPlugin)
	assert.Equal(t, modeAwaitAuthReply, c.mode)
}

func TestDecodeAuthReplies(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41)
	c.mode = modeAwaitAuthReply

	// Auth switch carries the plugin name and a fresh challenge.
	switchPkt := cat([]byte{0xfe}, []byte(CachingSha2Password), []byte{0},
		[]byte("challengechallenge12"), []byte{0})
	msg := decodeBytes(t, c, switchPkt)
	sw, ok := msg.(*AuthSwitchRequest)
	require.True(t, ok)
	assert.Equal(t, CachingSha2Password, sw.Plugin)
	assert.Equal(t, []byte("challengechallenge12"), sw.Data)
	assert.Equal(t, modeAwaitAuthReply, c.mode)

	// More-data keeps the mode.
	msg = decodeBytes(t, c, []byte{0x01, CachingSha2FastAuth})
	md, ok := msg.(*AuthMoreData)
	require.True(t, ok)
	assert.Equal(t, []byte{CachingSha2FastAuth}, md.Data)

	// OK finishes authentication.
	msg = decodeBytes(t, c, okBytes(ServerStatusAutocommit))
	_, ok = msg.(*OKMessage)
	require.True(t, ok)
	assert.Equal(t, modeAwaitCommandReply, c.mode)
}

func TestDecodeTextResultDeprecateEOF(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41 | CapabilityClientDeprecateEOF)
	c.mode = modeAwaitCommandReply
	c.observeRequest(&Query{SQL: "SELECT 1"})

	msg := decodeBytes(t, c, []byte{0x01})
	count, ok := msg.(*ColumnCount)
	require.True(t, ok)
	assert.EqualValues(t, 1, count.Count)

	msg = decodeBytes(t, c, coldefBytes("1"))
	def, ok := msg.(*ColumnDefinition)
	require.True(t, ok)
	assert.Equal(t, "1", def.Name)
	assert.Equal(t, modeAwaitResultRows, c.mode)

	msg = decodeBytes(t, c, []byte{0x01, '1'})
	row, ok := msg.(*RowMessage)
	require.True(t, ok)
	assert.False(t, row.Binary)
	assert.False(t, c.responseCycleDone(msg))
	row.Release()

	msg = decodeBytes(t, c, okEOFBytes(ServerStatusAutocommit))
	okMsg, ok := msg.(*OKMessage)
	require.True(t, ok)
	assert.True(t, okMsg.EndOfResult())
	assert.Equal(t, modeAwaitCommandReply, c.mode)
	assert.True(t, c.responseCycleDone(msg))
}

func TestDecodeTextResultLegacyEOF(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41)
	c.mode = modeAwaitCommandReply
	c.observeRequest(&Query{SQL: "SELECT a, b FROM t"})

	msg := decodeBytes(t, c, []byte{0x02})
	_, ok := msg.(*ColumnCount)
	require.True(t, ok)

	decodeBytes(t, c, coldefBytes("a"))
	decodeBytes(t, c, coldefBytes("b"))
	assert.Equal(t, modeAwaitResultMetadata, c.mode)

	// The legacy separator sits between metadata and rows.
	msg = decodeBytes(t, c, eofBytes(ServerStatusAutocommit))
	_, ok = msg.(*EOFMessage)
	require.True(t, ok)
	assert.Equal(t, modeAwaitResultRows, c.mode)

	row := decodeBytes(t, c, []byte{0x01, 'x', 0x01, 'y'})
	rowMsg, ok := row.(*RowMessage)
	require.True(t, ok)
	rowMsg.Release()

	msg = decodeBytes(t, c, eofBytes(ServerStatusAutocommit))
	_, ok = msg.(*EOFMessage)
	require.True(t, ok)
	assert.Equal(t, modeAwaitCommandReply, c.mode)
	assert.True(t, c.responseCycleDone(msg))
}

func TestDecodeMoreResultsKeepsCycleOpen(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41 | CapabilityClientDeprecateEOF)
	c.mode = modeAwaitCommandReply
	c.observeRequest(&Query{SQL: "CALL p()"})

	msg := decodeBytes(t, c, okBytes(ServerStatusAutocommit|ServerMoreResultsExists))
	require.IsType(t, &OKMessage{}, msg)
	assert.False(t, c.responseCycleDone(msg))

	msg = decodeBytes(t, c, okBytes(ServerStatusAutocommit))
	assert.True(t, c.responseCycleDone(msg))
}

func TestDecodeErrPacket(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41)
	c.mode = modeAwaitCommandReply

	msg := decodeBytes(t, c, errBytes(ERAccessDeniedError, SSAccessDeniedError, "access denied"))
	em, ok := msg.(*ErrorMessage)
	require.True(t, ok)
	assert.EqualValues(t, ERAccessDeniedError, em.Code)
	assert.Equal(t, SSAccessDeniedError, em.State)
	assert.Equal(t, "access denied", em.Message)

	sqlErr := em.ToError()
	assert.Equal(t, ERAccessDeniedError, sqlErr.Number())
	assert.Equal(t, SSAccessDeniedError, sqlErr.SQLState())
}

func TestDecodeLocalInfile(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41 | CapabilityClientLocalFiles)
	c.mode = modeAwaitCommandReply
	c.observeRequest(&Query{SQL: "LOAD DATA LOCAL INFILE 'x.csv' INTO TABLE t"})

	msg := decodeBytes(t, c, cat([]byte{0xfb}, []byte("x.csv")))
	req, ok := msg.(*LocalInfileRequest)
	require.True(t, ok)
	assert.Equal(t, "x.csv", req.Filename)
	assert.Equal(t, modeAwaitLocalInfile, c.mode)

	// After the client streams the file, a plain OK ends the cycle.
	msg = decodeBytes(t, c, okBytes(ServerStatusAutocommit))
	require.IsType(t, &OKMessage{}, msg)
	assert.True(t, c.responseCycleDone(msg))
}

func TestDecodePrepareReplyLegacy(t *testing.T) {
	c := newTestCodec(CapabilityClientProtocol41)
	c.observeRequest(&Prepare{SQL: "SELECT ? + ?"})
	require.Equal(t, modeAwaitPrepareReply, c.mode)

	// COM_STMT_PREPARE_OK: id 7, 1 column, 2 params.
	pkt := make([]byte, 12)
	pos := writeByte(pkt, 0, 0x00)
	pos = writeUint32(pkt, pos, 7)
	pos = writeUint16(pkt, pos, 1)
	pos = writeUint16(pkt, pos, 2)
	pos = writeByte(pkt, pos, 0)
	writeUint16(pkt, pos, 0)

	msg := decodeBytes(t, c, pkt)
	p, ok := msg.(*PreparedOK)
	require.True(t, ok)
	assert.Equal(t, uint32(7), p.StatementID)
	assert.Equal(t, uint16(2), p.ParamCount)
	assert.Equal(t, uint16(1), p.ColumnCount)

	// Two parameter definitions, separator, one column definition,
	// separator.
	decodeBytes(t, c, coldefBytes("?"))
	decodeBytes(t, c, coldefBytes("?"))
	decodeBytes(t, c, eofBytes(0))
	require.Equal(t, modeAwaitStmtMetadata, c.mode)
	decodeBytes(t, c, coldefBytes("c"))
	decodeBytes(t, c, eofBytes(0))
	assert.Equal(t, modeAwaitCommandReply, c.mode)
}

func TestDecodeSequencePerExchange(t *testing.T) {
	// Sequence ids reset at each client-initiated exchange boundary.
	ctx := newConnectionContext()
	ctx.Capabilities = CapabilityClientProtocol41
	var seq sequencer
	c := newDuplexCodec(ctx, &seq)
	c.mode = modeAwaitCommandReply

	seq.id.Store(9)
	c.observeRequest(&Ping{})
	assert.Equal(t, uint8(0), seq.next())

	seq.id.Store(5)
	c.observeRequest(&AuthContinue{Data: []byte{1}})
	assert.Equal(t, uint8(5), seq.next(), "auth continuation keeps the running sequence")
}
