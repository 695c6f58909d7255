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
	"asyncer.io/mysql/go/netbuf"
)

// decodeMode is the codec's inbound interpretation context. The same
// leading byte means different things in different phases, so the
// codec tracks where in the conversation the connection is, driven by
// both outbound commands and decoded server messages.
type decodeMode int

const (
	modeAwaitGreeting decodeMode = iota
	modeAwaitAuthReply
	modeAwaitCommandReply
	modeAwaitPrepareReply
	modeAwaitStmtMetadata
	modeAwaitResultMetadata
	modeAwaitResultRows
	modeAwaitLocalInfile
)

// duplexCodec encodes client messages into envelopes and decodes
// logical packets into server messages. It owns the decode mode, the
// shared sequencer, and the connection context; everything here runs
// on the connection's I/O side.
type duplexCodec struct {
	ctx *ConnectionContext
	seq *sequencer

	mode decodeMode

	// metaRemaining counts column definitions still expected in
	// result or statement metadata.
	metaRemaining int

	// stmtColumns is the column count queued behind the parameter
	// definitions of a prepare reply.
	stmtColumns int

	// separatorPending is set between metadata and rows when the
	// server still sends the legacy EOF separator.
	separatorPending bool

	// binaryRows marks the current result's row encoding.
	binaryRows bool
}

func newDuplexCodec(ctx *ConnectionContext, seq *sequencer) *duplexCodec {
	return &duplexCodec{
		ctx:  ctx,
		seq:  seq,
		mode: modeAwaitGreeting,
	}
}

// observeRequest adjusts the decode mode for the reply to an outbound
// message and resets the sequence id at exchange boundaries. Called
// before the message is framed.
func (c *duplexCodec) observeRequest(msg ClientMessage) {
	if msg.resetsSequence() {
		c.seq.reset()
	}

	switch msg.(type) {
	case *Query:
		c.mode = modeAwaitCommandReply
		c.binaryRows = false
	case *Prepare:
		c.mode = modeAwaitPrepareReply
	case *Execute:
		c.mode = modeAwaitCommandReply
		c.binaryRows = true
	case *Fetch:
		// Fetch replies with rows straight away.
		c.mode = modeAwaitResultRows
		c.binaryRows = true
	case *ChangeUser:
		c.mode = modeAwaitAuthReply
	case *Ping, *StmtReset, *ResetConnection, *Exit:
		c.mode = modeAwaitCommandReply
	case *PreparedClose:
		// No reply; the mode is whatever the next command sets.
	case *SslRequest, *HandshakeResponse, *AuthContinue, *LocalInfileData:
		// Handshake-phase messages and file streams do not change
		// the decode mode.
	}
}

// decode turns one logical packet into a server message, transitioning
// the decode mode. Ownership of bufs moves to the codec; row packets
// keep their buffers, everything else is parsed and released.
func (c *duplexCodec) decode(bufs []*netbuf.Buffer) (ServerMessage, error) {
	if c.mode == modeAwaitResultRows {
		return c.decodeRowPhase(bufs)
	}

	data := flattenPacket(bufs)
	defer netbuf.ReleaseAll(bufs)
	if len(data) == 0 {
		return nil, errProtocol("empty packet in mode %d", c.mode)
	}

	switch c.mode {
	case modeAwaitGreeting:
		return c.decodeGreeting(data)
	case modeAwaitAuthReply:
		return c.decodeAuthReply(data)
	case modeAwaitCommandReply, modeAwaitLocalInfile:
		return c.decodeCommandReply(data)
	case modeAwaitPrepareReply:
		return c.decodePrepareReply(data)
	case modeAwaitStmtMetadata, modeAwaitResultMetadata:
		return c.decodeMetadata(data)
	default:
		return nil, errProtocol("decode in unknown mode %d", c.mode)
	}
}

func (c *duplexCodec) decodeGreeting(data []byte) (ServerMessage, error) {
	if data[0] == ErrPacket {
		// The server may refuse before any handshake, e.g. when the
		// host is blocked.
		m, err := parseErrorPacket(data)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	g, err := parseGreeting(data)
	if err != nil {
		return nil, err
	}
	c.mode = modeAwaitAuthReply
	return g, nil
}

func (c *duplexCodec) decodeAuthReply(data []byte) (ServerMessage, error) {
	switch {
	case data[0] == ErrPacket:
		return parseErrorPacket(data)
	case isOKPacket(data):
		m, err := parseOKPacket(data, c.ctx.Capabilities)
		if err != nil {
			return nil, err
		}
		c.ctx.setStatusFlags(m.StatusFlags)
		c.mode = modeAwaitCommandReply
		return m, nil
	case data[0] == AuthSwitchRequestPacket:
		if len(data) == 1 {
			return nil, errProtocol("old-style authentication downgrade is not supported")
		}
		return parseAuthSwitchRequest(data)
	case data[0] == AuthMoreDataPacket:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return &AuthMoreData{Data: out}, nil
	default:
		return nil, errProtocol("unexpected packet %#x during authentication", data[0])
	}
}

func (c *duplexCodec) decodeCommandReply(data []byte) (ServerMessage, error) {
	switch {
	case data[0] == ErrPacket:
		c.mode = modeAwaitCommandReply
		return parseErrorPacket(data)
	case isOKPacket(data):
		m, err := parseOKPacket(data, c.ctx.Capabilities)
		if err != nil {
			return nil, err
		}
		c.ctx.setStatusFlags(m.StatusFlags)
		c.mode = modeAwaitCommandReply
		return m, nil
	case isEOFPacket(data):
		// Tolerated for servers that still send bare EOFs here.
		m, err := parseEOFPacket(data)
		if err != nil {
			return nil, err
		}
		c.ctx.setStatusFlags(m.StatusFlags)
		return m, nil
	case data[0] == LocalInfilePacket && c.mode == modeAwaitCommandReply:
		name, _, _ := readEOFString(data, 1)
		c.mode = modeAwaitLocalInfile
		return &LocalInfileRequest{Filename: name}, nil
	default:
		// A column count announces result metadata.
		count, _, ok := readLenEncInt(data, 0)
		if !ok || count == 0 {
			return nil, errProtocol("unexpected packet %#x as command reply", data[0])
		}
		c.mode = modeAwaitResultMetadata
		c.metaRemaining = int(count)
		c.separatorPending = !c.ctx.DeprecateEOF()
		return &ColumnCount{Count: count}, nil
	}
}

func (c *duplexCodec) decodePrepareReply(data []byte) (ServerMessage, error) {
	if data[0] == ErrPacket {
		c.mode = modeAwaitCommandReply
		return parseErrorPacket(data)
	}
	p, err := parsePreparedOK(data)
	if err != nil {
		return nil, err
	}
	c.stmtColumns = int(p.ColumnCount)
	if p.ParamCount > 0 {
		c.mode = modeAwaitStmtMetadata
		c.metaRemaining = int(p.ParamCount)
		c.separatorPending = !c.ctx.DeprecateEOF()
	} else if p.ColumnCount > 0 {
		c.mode = modeAwaitStmtMetadata
		c.metaRemaining = int(p.ColumnCount)
		c.stmtColumns = 0
		c.separatorPending = !c.ctx.DeprecateEOF()
	} else {
		c.mode = modeAwaitCommandReply
	}
	return p, nil
}

// decodeMetadata handles column definitions plus the legacy EOF
// separators of result sets and prepare replies.
func (c *duplexCodec) decodeMetadata(data []byte) (ServerMessage, error) {
	if data[0] == ErrPacket {
		c.mode = modeAwaitCommandReply
		return parseErrorPacket(data)
	}

	if c.metaRemaining == 0 {
		// The only thing standing between metadata and what follows
		// is the legacy EOF separator.
		if !isEOFPacket(data) {
			return nil, errProtocol("expected EOF separator, got %#x", data[0])
		}
		m, err := parseEOFPacket(data)
		if err != nil {
			return nil, err
		}
		c.ctx.setStatusFlags(m.StatusFlags)
		c.separatorPending = false
		c.advanceMetadata()
		return m, nil
	}

	def, err := parseColumnDefinition(data)
	if err != nil {
		return nil, err
	}
	c.metaRemaining--
	if c.metaRemaining == 0 && !c.separatorPending {
		c.advanceMetadata()
	}
	return def, nil
}

// advanceMetadata moves past a finished metadata block: prepare
// replies may chain a second block (columns after parameters), result
// sets fall through to rows.
func (c *duplexCodec) advanceMetadata() {
	if c.mode == modeAwaitStmtMetadata {
		if c.stmtColumns > 0 {
			c.metaRemaining = c.stmtColumns
			c.stmtColumns = 0
			c.separatorPending = !c.ctx.DeprecateEOF()
			return
		}
		c.mode = modeAwaitCommandReply
		return
	}
	c.mode = modeAwaitResultRows
}

func (c *duplexCodec) decodeRowPhase(bufs []*netbuf.Buffer) (ServerMessage, error) {
	head := bufs[0].Bytes()
	if len(head) == 0 {
		netbuf.ReleaseAll(bufs)
		return nil, errProtocol("empty packet in row phase")
	}

	switch {
	case head[0] == ErrPacket:
		data := flattenPacket(bufs)
		defer netbuf.ReleaseAll(bufs)
		c.mode = modeAwaitCommandReply
		return parseErrorPacket(data)

	case head[0] == EOFPacket && packetSize(bufs) < MaxPacketSize:
		// Result-set terminator: a legacy EOF, or an OK wearing the
		// EOF header when CLIENT_DEPRECATE_EOF is on. A row can only
		// lead with 0xfe for a field of at least 2^24 bytes, which
		// forces a maximum-length first envelope, so short packets
		// are unambiguous.
		data := flattenPacket(bufs)
		defer netbuf.ReleaseAll(bufs)
		c.mode = modeAwaitCommandReply
		if !c.ctx.DeprecateEOF() && isEOFPacket(data) {
			m, err := parseEOFPacket(data)
			if err != nil {
				return nil, err
			}
			c.ctx.setStatusFlags(m.StatusFlags)
			return m, nil
		}
		m, err := parseOKPacket(data, c.ctx.Capabilities)
		if err != nil {
			return nil, err
		}
		c.ctx.setStatusFlags(m.StatusFlags)
		return m, nil

	default:
		return &RowMessage{bufs: bufs, Binary: c.binaryRows}, nil
	}
}

// encode frames one client message. The caller flushes.
func (c *duplexCodec) encode(msg ClientMessage, ew *envelopeWriter) error {
	c.observeRequest(msg)
	return msg.writeTo(ew)
}

// flattenPacket joins a logical packet into one byte slice for the
// small, non-row messages. Single-buffer packets are used in place.
func flattenPacket(bufs []*netbuf.Buffer) []byte {
	if len(bufs) == 1 {
		return bufs[0].Bytes()
	}
	var size int
	for _, b := range bufs {
		size += b.Len()
	}
	out := make([]byte, 0, size)
	for _, b := range bufs {
		out = append(out, b.Bytes()...)
	}
	return out
}

func packetSize(bufs []*netbuf.Buffer) int64 {
	var n int64
	for _, b := range bufs {
		n += int64(b.Len())
	}
	return n
}
