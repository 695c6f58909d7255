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

const (
	// MaxPacketSize is the maximum payload length of a packet (envelope).
	// A payload this long continues in the next envelope.
	MaxPacketSize = (1 << 24) - 1

	// protocolVersion is the only protocol version we speak (proto 10,
	// everything since MySQL 3.21).
	protocolVersion = 10

	// minServerMajor/minServerMinor gate the oldest server we talk to.
	minServerMajor = 5
	minServerMinor = 5
)

// AuthMethodDescription is the type for different supported and
// implemented authentication methods.
type AuthMethodDescription string

// Supported auth plugin names.
const (
	// MysqlNativePassword uses a salt and transmits a SHA1 hash on the wire.
	MysqlNativePassword = AuthMethodDescription("mysql_native_password")

	// CachingSha2Password uses a salt and transmits a SHA256 hash on
	// the wire; the full exchange needs a secure channel or an RSA
	// round-trip.
	CachingSha2Password = AuthMethodDescription("caching_sha2_password")

	// Sha256Password transmits an RSA-encrypted password (or the clear
	// password over a secure channel).
	Sha256Password = AuthMethodDescription("sha256_password")

	// MysqlClearPassword transmits the password in the clear.
	MysqlClearPassword = AuthMethodDescription("mysql_clear_password")
)

// Capability flags.
// Originally found in include/mysql/mysql_com.h
const (
	// CapabilityClientLongPassword is CLIENT_LONG_PASSWORD.
	// New more secure passwords. Assumed to be set since 4.1.1.
	CapabilityClientLongPassword = 1

	// CapabilityClientFoundRows is CLIENT_FOUND_ROWS.
	// Return the number of found (matched) rows, not changed rows.
	CapabilityClientFoundRows = 1 << 1

	// CapabilityClientLongFlag is CLIENT_LONG_FLAG.
	// Longer flags in Protocol::ColumnDefinition320.
	// Set it everywhere, not used, as we use Protocol::ColumnDefinition41.
	CapabilityClientLongFlag = 1 << 2

	// CapabilityClientConnectWithDB is CLIENT_CONNECT_WITH_DB.
	// One can specify db on connect.
	CapabilityClientConnectWithDB = 1 << 3

	// CLIENT_NO_SCHEMA 1 << 4
	// Do not permit database.table.column. Not set.

	// CLIENT_COMPRESS 1 << 5
	// We do not support compression. CPU is usually the bottleneck.

	// CLIENT_ODBC 1 << 6
	// No special behavior since 3.22.

	// CapabilityClientLocalFiles is CLIENT_LOCAL_FILES.
	// Client can use LOCAL INFILE requests of LOAD DATA|XML.
	CapabilityClientLocalFiles = 1 << 7

	// CLIENT_IGNORE_SPACE 1 << 8
	// Parser can ignore spaces before '('. We ignore this.

	// CapabilityClientProtocol41 is CLIENT_PROTOCOL_41.
	// New 4.1 protocol. Enforced everywhere.
	CapabilityClientProtocol41 = 1 << 9

	// CapabilityClientInteractive is CLIENT_INTERACTIVE.
	// The server uses interactive_timeout instead of wait_timeout.
	CapabilityClientInteractive = 1 << 10

	// CapabilityClientSSL is CLIENT_SSL.
	// Switch to SSL after the SSL request packet.
	CapabilityClientSSL = 1 << 11

	// CLIENT_IGNORE_SIGPIPE 1 << 12
	// Do not issue SIGPIPE if network failures occur (libmysqlclient only).

	// CapabilityClientTransactions is CLIENT_TRANSACTIONS.
	// Can send status flags in EOF_Packet.
	// This flag is optional in 3.23, but always set by the server since 4.0.
	CapabilityClientTransactions = 1 << 13

	// CLIENT_RESERVED 1 << 14

	// CapabilityClientSecureConnection is CLIENT_SECURE_CONNECTION.
	// New 4.1 authentication. Always set, expected, never checked.
	CapabilityClientSecureConnection = 1 << 15

	// CapabilityClientMultiStatements is CLIENT_MULTI_STATEMENTS.
	// Can handle multiple statements per COM_QUERY and COM_STMT_PREPARE.
	CapabilityClientMultiStatements = 1 << 16

	// CapabilityClientMultiResults is CLIENT_MULTI_RESULTS.
	// Can send multiple resultsets for COM_QUERY.
	CapabilityClientMultiResults = 1 << 17

	// CLIENT_PS_MULTI_RESULTS 1 << 18
	// Can send multiple resultsets for COM_STMT_EXECUTE.
	// Implied by CLIENT_MULTI_RESULTS on the servers we target.

	// CapabilityClientPluginAuth is CLIENT_PLUGIN_AUTH.
	// Client supports plugin authentication.
	CapabilityClientPluginAuth = 1 << 19

	// CapabilityClientConnectAttrs is CLIENT_CONNECT_ATTRS.
	// Permits connection attributes in Protocol::HandshakeResponse41.
	CapabilityClientConnectAttrs = 1 << 20

	// CapabilityClientPluginAuthLenencClientData is
	// CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA.
	CapabilityClientPluginAuthLenencClientData = 1 << 21

	// CLIENT_CAN_HANDLE_EXPIRED_PASSWORDS 1 << 22
	// Announces support for expired password extension.
	// Not yet supported.

	// CapabilityClientSessionTrack is CLIENT_SESSION_TRACK.
	// Server can send session-state change data after an OK packet.
	// Not yet supported.
	CapabilityClientSessionTrack = 1 << 23

	// CapabilityClientDeprecateEOF is CLIENT_DEPRECATE_EOF.
	// Expects an OK (instead of EOF) after the resultset rows of a
	// Text Resultset.
	CapabilityClientDeprecateEOF = 1 << 24
)

// Packet types.
// Originally found in include/mysql/mysql_com.h
const (
	// ComQuit is COM_QUIT.
	ComQuit = 0x01

	// ComInitDB is COM_INIT_DB.
	ComInitDB = 0x02

	// ComQuery is COM_QUERY.
	ComQuery = 0x03

	// ComPing is COM_PING.
	ComPing = 0x0e

	// ComChangeUser is COM_CHANGE_USER.
	ComChangeUser = 0x11

	// ComStmtPrepare is COM_STMT_PREPARE.
	ComStmtPrepare = 0x16

	// ComStmtExecute is COM_STMT_EXECUTE.
	ComStmtExecute = 0x17

	// ComStmtClose is COM_STMT_CLOSE.
	ComStmtClose = 0x19

	// ComStmtReset is COM_STMT_RESET.
	ComStmtReset = 0x1a

	// ComStmtFetch is COM_STMT_FETCH.
	ComStmtFetch = 0x1c

	// ComResetConnection is COM_RESET_CONNECTION.
	ComResetConnection = 0x1f

	// OKPacket is the header of the OK packet.
	OKPacket = 0x00

	// EOFPacket is the header of the EOF packet.
	EOFPacket = 0xfe

	// AuthSwitchRequestPacket is used to switch auth method.
	AuthSwitchRequestPacket = 0xfe

	// AuthMoreDataPacket is the header of the auth-more-data packet.
	AuthMoreDataPacket = 0x01

	// ErrPacket is the header of the error packet.
	ErrPacket = 0xff

	// LocalInfilePacket is the header of the local-infile request.
	LocalInfilePacket = 0xfb

	// NullValue is the encoded value of NULL.
	NullValue = 0xfb
)

// Auth-more-data payload markers for caching_sha2_password.
const (
	// CachingSha2FastAuth signals the cached fast path succeeded; an
	// OK packet follows.
	CachingSha2FastAuth = 0x03

	// CachingSha2FullAuth asks for a full authentication round.
	CachingSha2FullAuth = 0x04

	// AuthRequestPublicKey asks the server for its RSA public key.
	AuthRequestPublicKey = 0x02
)

// Error codes for client-side errors.
// Originally found in include/mysql/errmsg.h
const (
	// CRUnknownError is CR_UNKNOWN_ERROR
	CRUnknownError = 2000

	// CRConnectionError is CR_CONNECTION_ERROR
	// This is returned if a connection via a Unix socket fails.
	CRConnectionError = 2002

	// CRConnHostError is CR_CONN_HOST_ERROR
	// This is returned if a connection via a TCP socket fails.
	CRConnHostError = 2003

	// CRServerGone is CR_SERVER_GONE_ERROR.
	// This is returned if the client tries to send a command but it fails.
	CRServerGone = 2006

	// CRVersionError is CR_VERSION_ERROR
	// This is returned if the server versions don't match what we support.
	CRVersionError = 2007

	// CRServerHandshakeErr is CR_SERVER_HANDSHAKE_ERR
	CRServerHandshakeErr = 2012

	// CRServerLost is CR_SERVER_LOST.
	// Used when:
	// - the client cannot write an initial auth packet.
	// - the client cannot read an initial auth packet.
	// - the client cannot read a response from the server.
	CRServerLost = 2013

	// CRCommandsOutOfSync is CR_COMMANDS_OUT_OF_SYNC
	// Sent when the streaming calls are not done in the right order.
	CRCommandsOutOfSync = 2014

	// CRSSLConnectionError is CR_SSL_CONNECTION_ERROR
	CRSSLConnectionError = 2026

	// CRMalformedPacket is CR_MALFORMED_PACKET
	CRMalformedPacket = 2027
)

// Error codes for server-side errors.
// Originally found in include/mysql/mysqld_error.h
const (
	// ERAccessDeniedError is ER_ACCESS_DENIED_ERROR
	ERAccessDeniedError = 1045

	// ERUnknownComError is ER_UNKNOWN_COM_ERROR
	ERUnknownComError = 1047

	// ERServerShutdown is ER_SERVER_SHUTDOWN
	ERServerShutdown = 1053

	// ERUnknownError is ER_UNKNOWN_ERROR
	ERUnknownError = 1105

	// ERNetPacketTooLarge is ER_NET_PACKET_TOO_LARGE
	ERNetPacketTooLarge = 1153

	// ERQueryInterrupted is ER_QUERY_INTERRUPTED
	ERQueryInterrupted = 1317
)

// Sql states for errors.
// Originally found in include/mysql/sql_state.h
const (
	// SSUnknownSQLState is the generic "HY000" state.
	SSUnknownSQLState = "HY000"

	// SSHandshakeError is ER_HANDSHAKE_ERROR
	SSHandshakeError = "08S01"

	// SSAccessDeniedError is ER_ACCESS_DENIED_ERROR
	SSAccessDeniedError = "28000"

	// SSNetError is the network-level error state.
	SSNetError = "08S01"

	// SSQueryInterrupted is ER_QUERY_INTERRUPTED
	SSQueryInterrupted = "70100"
)

// Status flags. They are returned by the server in a few cases.
// Originally found in include/mysql/mysql_com.h
// See http://dev.mysql.com/doc/internals/en/status-flags.html
const (
	// ServerStatusInTrans is SERVER_STATUS_IN_TRANS.
	ServerStatusInTrans = 0x0001

	// ServerStatusAutocommit is SERVER_STATUS_AUTOCOMMIT.
	ServerStatusAutocommit = 0x0002

	// ServerMoreResultsExists is SERVER_MORE_RESULTS_EXISTS.
	ServerMoreResultsExists = 0x0008

	// ServerStatusCursorExists is SERVER_STATUS_CURSOR_EXISTS.
	ServerStatusCursorExists = 0x0040

	// ServerStatusLastRowSent is SERVER_STATUS_LAST_ROW_SENT.
	ServerStatusLastRowSent = 0x0080

	// ServerSessionStateChanged is SERVER_SESSION_STATE_CHANGED.
	ServerSessionStateChanged = 0x4000
)

// A few interesting character set values.
// See http://dev.mysql.com/doc/internals/en/character-set.html#packet-Protocol::CharacterSet
const (
	// CharacterSetUtf8 is for UTF8.
	CharacterSetUtf8 = 33

	// CharacterSetUtf8mb4 is utf8mb4_general_ci. We use this by default.
	CharacterSetUtf8mb4 = 45

	// CharacterSetBinary is for binary. Used by integer fields for instance.
	CharacterSetBinary = 63
)

// CharacterSetMap maps the charset name (used in Config) to the
// integer collation id. Interesting ones have their own constant above.
var CharacterSetMap = map[string]uint8{
	"big5":     1,
	"dec8":     3,
	"cp850":    4,
	"hp8":      6,
	"koi8r":    7,
	"latin1":   8,
	"latin2":   9,
	"swe7":     10,
	"ascii":    11,
	"ujis":     12,
	"sjis":     13,
	"hebrew":   16,
	"tis620":   18,
	"euckr":    19,
	"koi8u":    22,
	"gb2312":   24,
	"greek":    25,
	"cp1250":   26,
	"gbk":      28,
	"latin5":   30,
	"armscii8": 32,
	"utf8":     CharacterSetUtf8,
	"ucs2":     35,
	"cp866":    36,
	"keybcs2":  37,
	"macce":    38,
	"macroman": 39,
	"cp852":    40,
	"latin7":   41,
	"utf8mb4":  CharacterSetUtf8mb4,
	"cp1251":   51,
	"utf16":    54,
	"utf16le":  56,
	"cp1256":   57,
	"cp1257":   59,
	"utf32":    60,
	"binary":   CharacterSetBinary,
	"geostd8":  92,
	"cp932":    95,
	"eucjpms":  97,
}
