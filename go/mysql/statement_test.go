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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyCapabilities advertises everything except CLIENT_DEPRECATE_EOF,
// so the server still sends EOF separators.
const legacyCapabilities = testGreetingCapabilities &^ CapabilityClientDeprecateEOF

func preparedOKBytes(id uint32, cols, params uint16) []byte {
	pkt := make([]byte, 12)
	pos := writeByte(pkt, 0, 0x00)
	pos = writeUint32(pkt, pos, id)
	pos = writeUint16(pkt, pos, cols)
	pos = writeUint16(pkt, pos, params)
	pos = writeByte(pkt, pos, 0)
	writeUint16(pkt, pos, 0)
	return pkt
}

func TestPrepareExecuteFetch(t *testing.T) {
	s, conf := newFakeServer(t)
	c := connectForTest(t, s, conf, func() {
		s.serveHandshake(legacyCapabilities)
	})
	ctx := context.Background()
	require.False(t, c.Context().DeprecateEOF())

	// Prepare: one param, one column, legacy separators.
	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtPrepare), cmd[0])
		s.writePacket(preparedOKBytes(3, 1, 1))
		s.writePacket(coldefBytes("?"))
		s.writePacket(eofBytes(0))
		s.writePacket(coldefBytes("v"))
		s.writePacket(eofBytes(0))
	}()

	stmt, err := c.Prepare(ctx, "SELECT v FROM t WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stmt.ID)
	assert.Equal(t, uint16(1), stmt.ParamCount)
	assert.Equal(t, uint16(1), stmt.ColumnCount)

	// Execute with a read-only cursor, fetch size 2, three rows in
	// total: two fetch round-trips.
	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtExecute), cmd[0])
		id, pos, _ := readUint32(cmd, 1)
		require.Equal(t, uint32(3), id)
		cursor, _, _ := readByte(cmd, pos)
		require.Equal(t, byte(CursorTypeReadOnly), cursor)

		s.writePacket([]byte{0x01})
		s.writePacket(coldefBytes("v"))
		s.writePacket(eofBytes(ServerStatusCursorExists))

		cmd = s.readCommand()
		require.Equal(t, byte(ComStmtFetch), cmd[0])
		s.writePacket([]byte{0x00, 0x01, 'a'})
		s.writePacket([]byte{0x00, 0x01, 'b'})
		s.writePacket(eofBytes(ServerStatusCursorExists))

		cmd = s.readCommand()
		require.Equal(t, byte(ComStmtFetch), cmd[0])
		s.writePacket([]byte{0x00, 0x01, 'c'})
		s.writePacket(eofBytes(ServerStatusCursorExists | ServerStatusLastRowSent))
	}()

	msgs, err := stmt.Execute([]byte{0x00, 0x01}, 2).Collect(ctx)
	require.NoError(t, err)

	var rows int
	for _, m := range msgs {
		if row, ok := m.(*RowMessage); ok {
			rows++
			assert.True(t, row.Binary)
			row.Release()
		}
	}
	assert.Equal(t, 3, rows)

	// Close is fire-and-forget; the ping behind it proves ordering.
	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtClose), cmd[0])
		s.serveOK()
	}()
	require.NoError(t, stmt.Close())
	require.NoError(t, c.Ping(ctx))

	closeForTest(t, s, c)
}

func TestExecuteWithoutResult(t *testing.T) {
	s, conf := newFakeServer(t)
	c := connectForTest(t, s, conf, func() {
		s.serveHandshake(testGreetingCapabilities)
	})
	ctx := context.Background()

	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtPrepare), cmd[0])
		s.writePacket(preparedOKBytes(8, 0, 0))
	}()
	stmt, err := c.Prepare(ctx, "DELETE FROM t")
	require.NoError(t, err)

	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtExecute), cmd[0])
		s.writePacket(okBytes(ServerStatusAutocommit))
	}()

	msgs, err := stmt.Execute(nil, 0).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.IsType(t, &OKMessage{}, msgs[0])

	closeForTest(t, s, c)
}

func TestStatementReset(t *testing.T) {
	s, conf := newFakeServer(t)
	c := connectForTest(t, s, conf, func() {
		s.serveHandshake(testGreetingCapabilities)
	})
	ctx := context.Background()

	go func() {
		s.readCommand()
		s.writePacket(preparedOKBytes(2, 0, 0))
	}()
	stmt, err := c.Prepare(ctx, "SELECT 1")
	require.NoError(t, err)

	go func() {
		cmd := s.readCommand()
		require.Equal(t, byte(ComStmtReset), cmd[0])
		s.writePacket(okBytes(ServerStatusAutocommit))
	}()
	require.NoError(t, stmt.Reset(ctx))

	closeForTest(t, s, c)
}
