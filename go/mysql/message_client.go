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

// ClientMessage is one outbound message. Each variant serialises
// itself into one or more envelopes through the envelope writer.
type ClientMessage interface {
	// writeTo frames and buffers the message. The codec flushes.
	writeTo(ew *envelopeWriter) error

	// resetsSequence reports whether the message starts a new
	// request/response cycle (sequence id back to 0). Auth
	// continuations and local-infile replies keep the running
	// sequence.
	resetsSequence() bool
}

// Disposable is implemented by client messages owning buffers that
// must be released if the message never reaches the wire.
type Disposable interface {
	Dispose()
}

// DisposeIfOwned releases msg's buffers when it owns any.
func DisposeIfOwned(msg ClientMessage) {
	if d, ok := msg.(Disposable); ok {
		d.Dispose()
	}
}

// command is the embeddable base for single-envelope commands that
// start a new sequence.
type command struct{}

func (command) resetsSequence() bool { return true }

// continuation is the embeddable base for messages that continue the
// current sequence.
type continuation struct{}

func (continuation) resetsSequence() bool { return false }

// SslRequest is the abbreviated handshake response sent in clear
// before the TLS upgrade.
type SslRequest struct {
	continuation
	Capabilities uint32
	CollationID  uint8
}

func (m *SslRequest) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 4+4+1+23)
	pos := writeUint32(data, 0, m.Capabilities)
	pos = writeUint32(data, pos, maxClientPacketSize)
	pos = writeByte(data, pos, m.CollationID)
	_ = writeZeroes(data, pos, 23)
	return ew.writePayload(data)
}

// maxClientPacketSize is the max-packet-size field of the handshake
// response. The wire still frames at MaxPacketSize.
const maxClientPacketSize = 1 << 30

// HandshakeResponse is Protocol::HandshakeResponse41.
type HandshakeResponse struct {
	continuation
	Capabilities uint32
	CollationID  uint8
	User         string
	AuthResponse []byte
	Database     string
	AuthPlugin   AuthMethodDescription
	ConnectAttrs map[string]string
}

func (m *HandshakeResponse) writeTo(ew *envelopeWriter) error {
	authSize := lenEncBytesSize(m.AuthResponse)
	if m.Capabilities&CapabilityClientPluginAuthLenencClientData == 0 {
		// Pre-5.6 servers take a 1-byte length instead.
		authSize = 1 + len(m.AuthResponse)
	}
	length := 4 + 4 + 1 + 23 +
		lenNullString(m.User) +
		authSize
	if m.Capabilities&CapabilityClientConnectWithDB != 0 {
		length += lenNullString(m.Database)
	}
	if m.Capabilities&CapabilityClientPluginAuth != 0 {
		length += lenNullString(string(m.AuthPlugin))
	}
	var attrs []byte
	if m.Capabilities&CapabilityClientConnectAttrs != 0 {
		attrs = encodeConnectAttrs(m.ConnectAttrs)
		length += lenEncBytesSize(attrs)
	}

	data := make([]byte, length)
	pos := writeUint32(data, 0, m.Capabilities)
	pos = writeUint32(data, pos, maxClientPacketSize)
	pos = writeByte(data, pos, m.CollationID)
	pos = writeZeroes(data, pos, 23)
	pos = writeNullString(data, pos, m.User)
	if m.Capabilities&CapabilityClientPluginAuthLenencClientData != 0 {
		pos = writeLenEncBytes(data, pos, m.AuthResponse)
	} else {
		pos = writeByte(data, pos, byte(len(m.AuthResponse)))
		pos += copy(data[pos:], m.AuthResponse)
	}
	if m.Capabilities&CapabilityClientConnectWithDB != 0 {
		pos = writeNullString(data, pos, m.Database)
	}
	if m.Capabilities&CapabilityClientPluginAuth != 0 {
		pos = writeNullString(data, pos, string(m.AuthPlugin))
	}
	if m.Capabilities&CapabilityClientConnectAttrs != 0 {
		_ = writeLenEncBytes(data, pos, attrs)
	}
	return ew.writePayload(data)
}

func encodeConnectAttrs(attrs map[string]string) []byte {
	length := 0
	for k, v := range attrs {
		length += lenEncStringSize(k) + lenEncStringSize(v)
	}
	data := make([]byte, length)
	pos := 0
	for k, v := range attrs {
		pos = writeLenEncString(data, pos, k)
		pos = writeLenEncString(data, pos, v)
	}
	return data
}

// AuthContinue is a raw auth payload for switch/more-data round-trips.
type AuthContinue struct {
	continuation
	Data []byte
}

func (m *AuthContinue) writeTo(ew *envelopeWriter) error {
	return ew.writePayload(m.Data)
}

// Query is COM_QUERY, the text protocol.
type Query struct {
	command
	SQL string
}

func (m *Query) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+lenEOFString(m.SQL))
	pos := writeByte(data, 0, ComQuery)
	_ = writeEOFString(data, pos, m.SQL)
	return ew.writePayload(data)
}

// Prepare is COM_STMT_PREPARE.
type Prepare struct {
	command
	SQL string
}

func (m *Prepare) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+lenEOFString(m.SQL))
	pos := writeByte(data, 0, ComStmtPrepare)
	_ = writeEOFString(data, pos, m.SQL)
	return ew.writePayload(data)
}

// Execute is COM_STMT_EXECUTE. ParamsBlock is the pre-encoded
// NULL-bitmap/new-params-bound/types/values block; parameter encoding
// is the value codec's concern, not the engine's.
type Execute struct {
	command
	StatementID uint32
	CursorType  byte
	ParamsBlock []byte
}

func (m *Execute) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+4+1+4+len(m.ParamsBlock))
	pos := writeByte(data, 0, ComStmtExecute)
	pos = writeUint32(data, pos, m.StatementID)
	pos = writeByte(data, pos, m.CursorType)
	pos = writeUint32(data, pos, 1) // iteration count, always 1
	copy(data[pos:], m.ParamsBlock)
	return ew.writePayload(data)
}

// Fetch is COM_STMT_FETCH for cursored result sets.
type Fetch struct {
	command
	StatementID uint32
	NumRows     uint32
}

func (m *Fetch) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+4+4)
	pos := writeByte(data, 0, ComStmtFetch)
	pos = writeUint32(data, pos, m.StatementID)
	_ = writeUint32(data, pos, m.NumRows)
	return ew.writePayload(data)
}

// PreparedClose is COM_STMT_CLOSE. The server sends no reply.
type PreparedClose struct {
	command
	StatementID uint32
}

func (m *PreparedClose) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+4)
	pos := writeByte(data, 0, ComStmtClose)
	_ = writeUint32(data, pos, m.StatementID)
	return ew.writePayload(data)
}

// StmtReset is COM_STMT_RESET.
type StmtReset struct {
	command
	StatementID uint32
}

func (m *StmtReset) writeTo(ew *envelopeWriter) error {
	data := make([]byte, 1+4)
	pos := writeByte(data, 0, ComStmtReset)
	_ = writeUint32(data, pos, m.StatementID)
	return ew.writePayload(data)
}

// ResetConnection is COM_RESET_CONNECTION.
type ResetConnection struct {
	command
}

func (m *ResetConnection) writeTo(ew *envelopeWriter) error {
	return ew.writePayload([]byte{ComResetConnection})
}

// ChangeUser is COM_CHANGE_USER; it re-enters the auth loop in command
// phase.
type ChangeUser struct {
	command
	User         string
	AuthResponse []byte
	Database     string
	CharsetID    uint8
	AuthPlugin   AuthMethodDescription
	Capabilities uint32
}

func (m *ChangeUser) writeTo(ew *envelopeWriter) error {
	length := 1 +
		lenNullString(m.User) +
		1 + len(m.AuthResponse) +
		lenNullString(m.Database) +
		2
	if m.Capabilities&CapabilityClientPluginAuth != 0 {
		length += lenNullString(string(m.AuthPlugin))
	}
	data := make([]byte, length)
	pos := writeByte(data, 0, ComChangeUser)
	pos = writeNullString(data, pos, m.User)
	pos = writeByte(data, pos, byte(len(m.AuthResponse)))
	pos += copy(data[pos:], m.AuthResponse)
	pos = writeNullString(data, pos, m.Database)
	pos = writeUint16(data, pos, uint16(m.CharsetID))
	if m.Capabilities&CapabilityClientPluginAuth != 0 {
		_ = writeNullString(data, pos, string(m.AuthPlugin))
	}
	return ew.writePayload(data)
}

// Ping is COM_PING.
type Ping struct {
	command
}

func (m *Ping) writeTo(ew *envelopeWriter) error {
	return ew.writePayload([]byte{ComPing})
}

// Exit is COM_QUIT, sent on graceful close.
type Exit struct {
	command
}

func (m *Exit) writeTo(ew *envelopeWriter) error {
	return ew.writePayload([]byte{ComQuit})
}

// LocalInfileData answers a LocalInfileRequest: the file content in
// its buffers, then the empty terminating envelope. It owns the
// buffers and is disposed when the exchange never activates.
type LocalInfileData struct {
	continuation
	bufs []*netbuf.Buffer
}

// NewLocalInfileData takes ownership of the content buffers.
func NewLocalInfileData(bufs []*netbuf.Buffer) *LocalInfileData {
	return &LocalInfileData{bufs: bufs}
}

func (m *LocalInfileData) writeTo(ew *envelopeWriter) error {
	// The file stream has no logical-packet layer: every envelope is
	// raw content and the first empty envelope ends it. Chunks stay
	// under MaxPacketSize so no implicit empty envelope sneaks in.
	for _, b := range m.bufs {
		data := b.Bytes()
		for len(data) > 0 {
			chunk := data
			if len(chunk) >= MaxPacketSize {
				chunk = data[:MaxPacketSize-1]
			}
			if err := ew.writePayload(chunk); err != nil {
				m.Dispose()
				return err
			}
			data = data[len(chunk):]
		}
	}
	// Empty envelope terminates the file stream.
	err := ew.writePayload(nil)
	m.Dispose()
	return err
}

// Dispose releases the owned buffers.
func (m *LocalInfileData) Dispose() {
	netbuf.ReleaseAll(m.bufs)
	m.bufs = nil
}
