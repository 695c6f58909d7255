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
	"strconv"
	"strings"

	"go.uber.org/atomic"
)

// Phase is the connection lifecycle state. Terminal state is
// PhaseClosed; any phase may fall to PhaseDisconnecting on error.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseHandshake
	PhaseSsl
	PhaseAuth
	PhaseCommand
	PhaseDisconnecting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseHandshake:
		return "HANDSHAKE"
	case PhaseSsl:
		return "SSL"
	case PhaseAuth:
		return "AUTH"
	case PhaseCommand:
		return "COMMAND"
	case PhaseDisconnecting:
		return "DISCONNECTING"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// ServerVersion is the parsed server version tuple.
type ServerVersion struct {
	Major int
	Minor int
	Patch int
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether the version is >= major.minor.patch.
func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// parseServerVersion reads the leading dotted triple of a version
// string like "5.7.40-log". Missing pieces are zero.
func parseServerVersion(s string) ServerVersion {
	var v ServerVersion
	parts := [3]*int{&v.Major, &v.Minor, &v.Patch}
	for i, out := range parts {
		end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
		digits := s
		if end >= 0 {
			digits = s[:end]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return v
		}
		*out = n
		if end < 0 || s[end] != '.' || i == 2 {
			return v
		}
		s = s[end+1:]
	}
	return v
}

// ConnectionContext is the per-connection mutable state. It is written
// only from the connection's I/O side; the fields behind atomics may
// be observed from any goroutine.
type ConnectionContext struct {
	// Negotiated capabilities: the intersection of the client mask
	// and what the server advertised. Fixed after the handshake
	// response is built.
	Capabilities uint32

	ConnectionID  uint32
	ServerVersion ServerVersion
	CollationID   uint8

	// TimeZone is the session zone used by value codecs; the engine
	// only carries it.
	TimeZone string

	statusFlags atomic.Uint32
	phase       atomic.Int32
}

func newConnectionContext() *ConnectionContext {
	return &ConnectionContext{}
}

// DeprecateEOF reports whether CLIENT_DEPRECATE_EOF was negotiated.
func (c *ConnectionContext) DeprecateEOF() bool {
	return c.Capabilities&CapabilityClientDeprecateEOF != 0
}

// StatusFlags returns the last server status flags observed.
func (c *ConnectionContext) StatusFlags() uint16 {
	return uint16(c.statusFlags.Load())
}

func (c *ConnectionContext) setStatusFlags(flags uint16) {
	c.statusFlags.Store(uint32(flags))
}

// Phase returns the current lifecycle phase.
func (c *ConnectionContext) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *ConnectionContext) setPhase(p Phase) {
	c.phase.Store(int32(p))
}
