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
	"fmt"

	"asyncer.io/mysql/go/netbuf"
)

// ServerMessage is one decoded message from the server. Decoding is
// context-sensitive; the duplex codec knows which parser applies in the
// current phase.
type ServerMessage interface {
	isServerMessage()
}

// HandshakeGreeting is the server's initial handshake (protocol 10).
type HandshakeGreeting struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	Capabilities    uint32
	CharacterSet    uint8
	StatusFlags     uint16
	// AuthData is the challenge (salt), both parts joined, without the
	// trailing NUL.
	AuthData   []byte
	AuthPlugin AuthMethodDescription
}

func (*HandshakeGreeting) isServerMessage() {}

// OKMessage is an OK packet. When EOFHeader is set it arrived as the
// deprecated-EOF result-set terminator (0xfe header, OK layout).
type OKMessage struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         string
	EOFHeader    bool
}

func (*OKMessage) isServerMessage() {}

// EndOfResult reports whether this OK terminates a result set rather
// than a plain command.
func (m *OKMessage) EndOfResult() bool { return m.EOFHeader }

// EOFMessage is a legacy EOF packet (pre CLIENT_DEPRECATE_EOF).
type EOFMessage struct {
	Warnings    uint16
	StatusFlags uint16
}

func (*EOFMessage) isServerMessage() {}

// ErrorMessage is an ERR packet. It terminates the current exchange
// only; the connection stays usable.
type ErrorMessage struct {
	Code    uint16
	State   string
	Message string
}

func (*ErrorMessage) isServerMessage() {}

// ToError converts the packet into a *SQLError.
func (m *ErrorMessage) ToError() *SQLError {
	return &SQLError{Num: int(m.Code), State: m.State, Message: m.Message}
}

// LocalInfileRequest asks the client to stream a local file.
type LocalInfileRequest struct {
	Filename string
}

func (*LocalInfileRequest) isServerMessage() {}

// ColumnCount announces the number of column definitions that follow.
type ColumnCount struct {
	Count uint64
}

func (*ColumnCount) isServerMessage() {}

// ColumnDefinition is one Protocol::ColumnDefinition41 packet.
type ColumnDefinition struct {
	Schema    string
	Table     string
	OrgTable  string
	Name      string
	OrgName   string
	CharSet   uint16
	ColumnLen uint32
	Type      byte
	Flags     uint16
	Decimals  byte
}

func (*ColumnDefinition) isServerMessage() {}

// RowMessage is one row's logical packet, text or binary encoded. The
// payload buffers are owned by the message until released; type
// conversion happens in the external value decoder, fed through a
// FieldReader.
type RowMessage struct {
	bufs   []*netbuf.Buffer
	Binary bool
}

func (*RowMessage) isServerMessage() {}

// Retain pins the row's buffers.
func (m *RowMessage) Retain() { netbuf.RetainAll(m.bufs) }

// Release releases the row's buffers. Used by consumers and by the
// discard hook on cancellation.
func (m *RowMessage) Release() bool {
	netbuf.ReleaseAll(m.bufs)
	return true
}

// FieldReader hands the row payload to a field reader. Ownership of
// the buffer references moves to the reader; the message must not be
// released afterwards.
func (m *RowMessage) FieldReader() FieldReader {
	bufs := m.bufs
	m.bufs = nil
	return NewFieldReader(bufs)
}

// Len returns the total payload size.
func (m *RowMessage) Len() int64 {
	var n int64
	for _, b := range m.bufs {
		n += int64(b.Len())
	}
	return n
}

// PreparedOK is the COM_STMT_PREPARE_OK packet.
type PreparedOK struct {
	StatementID uint32
	ColumnCount uint16
	ParamCount  uint16
	Warnings    uint16
}

func (*PreparedOK) isServerMessage() {}

// AuthSwitchRequest asks the client to continue with another plugin.
type AuthSwitchRequest struct {
	Plugin AuthMethodDescription
	Data   []byte
}

func (*AuthSwitchRequest) isServerMessage() {}

// AuthMoreData is an extra auth round-trip payload (0x01 header).
type AuthMoreData struct {
	Data []byte
}

func (*AuthMoreData) isServerMessage() {}

//
// Parsers. All of them take one flattened logical packet.
//

// isEOFPacket determines whether a packet is an EOF. In case the
// packet is a length-encoded int, the 0xfe prefix would be followed by
// 8 data bytes, making the packet at least 9 bytes long.
func isEOFPacket(data []byte) bool {
	return data[0] == EOFPacket && len(data) < 9
}

// isOKPacket tells an OK apart from the other 0x00-leading packets;
// a real OK carries at least 7 bytes.
func isOKPacket(data []byte) bool {
	return data[0] == OKPacket && len(data) >= 7
}

// parseGreeting parses the initial handshake packet and refuses any
// protocol version other than 10.
func parseGreeting(data []byte) (*HandshakeGreeting, error) {
	g := &HandshakeGreeting{}
	pos := 0

	pver, pos, ok := readByte(data, pos)
	if !ok {
		return nil, errProtocol("greeting has no protocol version")
	}
	g.ProtocolVersion = pver
	if pver != protocolVersion {
		return nil, NewSQLError(CRVersionError, SSUnknownSQLState,
			"unsupported protocol version %v", pver)
	}

	g.ServerVersion, pos, ok = readNullString(data, pos)
	if !ok {
		return nil, errProtocol("greeting has no server version")
	}

	g.ConnectionID, pos, ok = readUint32(data, pos)
	if !ok {
		return nil, errProtocol("greeting has no connection id")
	}

	// Auth-plugin-data-part-1, 8 bytes, then a filler byte.
	authData, pos, ok := readBytesCopy(data, pos, 8)
	if !ok {
		return nil, errProtocol("greeting has no auth-plugin-data")
	}
	pos++ // filler

	// Lower 2 bytes of the capability flags.
	capLower, pos, ok := readUint16(data, pos)
	if !ok {
		return nil, errProtocol("greeting has no capability flags")
	}
	g.Capabilities = uint32(capLower)

	// Everything below is optional (3.21 servers stop here).
	if pos < len(data) {
		g.CharacterSet, pos, _ = readByte(data, pos)
		g.StatusFlags, pos, _ = readUint16(data, pos)

		capUpper, next, ok := readUint16(data, pos)
		if !ok {
			return nil, errProtocol("greeting has truncated capability flags")
		}
		pos = next
		g.Capabilities |= uint32(capUpper) << 16

		authDataLen, next, ok := readByte(data, pos)
		if !ok {
			return nil, errProtocol("greeting has no auth-plugin-data length")
		}
		pos = next

		// 10 reserved zero bytes.
		pos += 10

		if g.Capabilities&CapabilityClientSecureConnection != 0 {
			// Part 2 is max(13, authDataLen-8) bytes, NUL terminated.
			l := 13
			if int(authDataLen)-8 > l {
				l = int(authDataLen) - 8
			}
			part2, next, ok := readBytesCopy(data, pos, l)
			if !ok {
				return nil, errProtocol("greeting has truncated auth-plugin-data")
			}
			pos = next
			if part2[l-1] == 0 {
				part2 = part2[:l-1]
			}
			authData = append(authData, part2...)
		}

		if g.Capabilities&CapabilityClientPluginAuth != 0 {
			plugin, next, ok := readNullString(data, pos)
			if !ok {
				// Some servers send the plugin name without the
				// trailing NUL.
				plugin, _, _ = readEOFString(data, pos)
			} else {
				pos = next
			}
			g.AuthPlugin = AuthMethodDescription(plugin)
		}
	}

	if g.AuthPlugin == "" {
		g.AuthPlugin = MysqlNativePassword
	}
	g.AuthData = authData
	return g, nil
}

// parseOKPacket parses an OK packet, with or without the deprecated
// EOF header.
func parseOKPacket(data []byte, capabilities uint32) (*OKMessage, error) {
	m := &OKMessage{EOFHeader: data[0] == EOFPacket}
	var ok bool
	pos := 1

	m.AffectedRows, pos, ok = readLenEncInt(data, pos)
	if !ok {
		return nil, errProtocol("OK packet has no affected rows")
	}
	m.LastInsertID, pos, ok = readLenEncInt(data, pos)
	if !ok {
		return nil, errProtocol("OK packet has no last insert id")
	}
	m.StatusFlags, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("OK packet has no status flags")
	}
	m.Warnings, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("OK packet has no warnings")
	}
	if capabilities&CapabilityClientSessionTrack != 0 {
		m.Info, _, _ = readLenEncString(data, pos)
	} else {
		m.Info, _, _ = readEOFString(data, pos)
	}
	return m, nil
}

// parseEOFPacket parses a legacy EOF packet.
func parseEOFPacket(data []byte) (*EOFMessage, error) {
	m := &EOFMessage{}
	var ok bool
	pos := 1
	m.Warnings, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("EOF packet has no warning count")
	}
	m.StatusFlags, _, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("EOF packet has no status flags")
	}
	return m, nil
}

// parseErrorPacket parses an ERR packet.
func parseErrorPacket(data []byte) (*ErrorMessage, error) {
	m := &ErrorMessage{}
	var ok bool
	pos := 1

	m.Code, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("ERR packet has no error code")
	}

	// '#' marker plus 5-byte SQL state (protocol 4.1).
	if marker, next, ok := readByte(data, pos); ok && marker == '#' {
		state, next, ok := readBytes(data, next, 5)
		if !ok {
			return nil, errProtocol("ERR packet has truncated SQL state")
		}
		m.State = string(state)
		pos = next
	} else {
		m.State = SSUnknownSQLState
	}

	m.Message, _, _ = readEOFString(data, pos)
	return m, nil
}

// parseColumnDefinition parses Protocol::ColumnDefinition41.
func parseColumnDefinition(data []byte) (*ColumnDefinition, error) {
	c := &ColumnDefinition{}
	var ok bool

	// Catalog is always "def", skipped.
	pos, ok := skipLenEncString(data, 0)
	if !ok {
		return nil, errProtocol("column definition has no catalog")
	}
	c.Schema, pos, ok = readLenEncString(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no schema")
	}
	c.Table, pos, ok = readLenEncString(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no table")
	}
	c.OrgTable, pos, ok = readLenEncString(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no org table")
	}
	c.Name, pos, ok = readLenEncString(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no name")
	}
	c.OrgName, pos, ok = readLenEncString(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no org name")
	}

	// Length of fixed-length fields, always 0x0c.
	if _, next, ok := readLenEncInt(data, pos); ok {
		pos = next
	} else {
		return nil, errProtocol("column definition has no fixed-length marker")
	}

	c.CharSet, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no character set")
	}
	c.ColumnLen, pos, ok = readUint32(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no column length")
	}
	c.Type, pos, ok = readByte(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no type")
	}
	c.Flags, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no flags")
	}
	c.Decimals, _, ok = readByte(data, pos)
	if !ok {
		return nil, errProtocol("column definition has no decimals")
	}
	return c, nil
}

// parsePreparedOK parses COM_STMT_PREPARE_OK.
func parsePreparedOK(data []byte) (*PreparedOK, error) {
	p := &PreparedOK{}
	var ok bool
	pos := 1 // 0x00 status

	p.StatementID, pos, ok = readUint32(data, pos)
	if !ok {
		return nil, errProtocol("prepared OK has no statement id")
	}
	p.ColumnCount, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("prepared OK has no column count")
	}
	p.ParamCount, pos, ok = readUint16(data, pos)
	if !ok {
		return nil, errProtocol("prepared OK has no param count")
	}
	pos++ // filler
	p.Warnings, _, _ = readUint16(data, pos)
	return p, nil
}

// parseAuthSwitchRequest parses the 0xfe auth switch packet.
func parseAuthSwitchRequest(data []byte) (*AuthSwitchRequest, error) {
	plugin, pos, ok := readNullString(data, 1)
	if !ok {
		return nil, errProtocol("auth switch request has no plugin name")
	}
	// Trailing NUL on the payload is not part of the challenge.
	payload := data[pos:]
	if n := len(payload); n > 0 && payload[n-1] == 0 {
		payload = payload[:n-1]
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return &AuthSwitchRequest{Plugin: AuthMethodDescription(plugin), Data: out}, nil
}

func (m *OKMessage) String() string {
	if m.EOFHeader {
		return fmt.Sprintf("OK(eof){rows=%d status=%#x}", m.AffectedRows, m.StatusFlags)
	}
	return fmt.Sprintf("OK{rows=%d status=%#x}", m.AffectedRows, m.StatusFlags)
}

func (m *ErrorMessage) String() string {
	return fmt.Sprintf("ERR{%d (%s): %s}", m.Code, m.State, m.Message)
}
