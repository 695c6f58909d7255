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
	"time"

	"asyncer.io/mysql/go/log"
)

const (
	clientName    = "asyncer-mysql"
	clientVersion = "1.4.0"
)

func defaultConnectAttrs(extra map[string]string) map[string]string {
	attrs := map[string]string{
		"_client_name":    clientName,
		"_client_version": clientVersion,
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return attrs
}

// handshake drives the connection from greeting to command phase. It
// is the privileged first exchange: it runs before the engine loops
// exist, directly on the caller's goroutine, so no user request can
// interleave and the TLS splice happens at a quiescent wire.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.conf.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	c.ctx.setPhase(PhaseHandshake)

	msg, err := c.readMessage()
	if err != nil {
		return wrapClientError(KindUnknown, err, "reading initial handshake failed")
	}
	var greeting *HandshakeGreeting
	switch m := msg.(type) {
	case *HandshakeGreeting:
		greeting = m
	case *ErrorMessage:
		return m.ToError()
	default:
		return errProtocol("unexpected %T as initial handshake", msg)
	}

	c.ctx.ConnectionID = greeting.ConnectionID
	c.ctx.ServerVersion = parseServerVersion(greeting.ServerVersion)
	c.ctx.CollationID = c.conf.collationID()
	c.ctx.setStatusFlags(greeting.StatusFlags)
	if !c.ctx.ServerVersion.AtLeast(minServerMajor, minServerMinor, 0) {
		return NewSQLError(CRVersionError, SSUnknownSQLState,
			"server version %v is older than %d.%d", greeting.ServerVersion, minServerMajor, minServerMinor)
	}
	if greeting.Capabilities&CapabilityClientProtocol41 == 0 {
		return NewSQLError(CRVersionError, SSUnknownSQLState,
			"server does not speak the 4.1 protocol")
	}

	bridge := newSslBridge(c.conf)
	upgrade, err := bridge.accept(greeting.Capabilities)
	if err != nil {
		return err
	}

	// Negotiate: the intersection of what we want and what the server
	// advertises, with the SSL bit reflecting the upgrade decision.
	capabilities := c.conf.capabilityMask() & greeting.Capabilities
	if !upgrade {
		capabilities &^= CapabilityClientSSL
	}
	c.ctx.Capabilities = capabilities

	if upgrade {
		c.ctx.setPhase(PhaseSsl)
		if err := c.writeMessage(&SslRequest{
			Capabilities: capabilities,
			CollationID:  c.ctx.CollationID,
		}); err != nil {
			return err
		}
		tlsConn, err := bridge.upgrade(ctx, c.conn)
		if err != nil {
			return err
		}
		// Splice the tunnel in at the byte boundary: same sequencer,
		// fresh transport underneath slicer and writer.
		c.conn = tlsConn
		c.slicer.reset(tlsConn)
		c.writer.reset(tlsConn)
		c.secure = true
	} else if c.conf.SslMode == SslPreferred {
		c.sslUnsupported()
	}

	c.ctx.setPhase(PhaseAuth)

	plugin := greeting.AuthPlugin
	factory, ok := lookupAuthPlugin(plugin)
	if !ok {
		// Answer with a method we do have; the server will switch us
		// if it disagrees.
		plugin = MysqlNativePassword
		factory, _ = lookupAuthPlugin(plugin)
	}
	auth := factory(c.conf.User, c.conf.Passwd, c.secure)
	payload, _, err := auth.NextPayload(greeting.AuthData)
	if err != nil {
		return err
	}

	if err := c.writeMessage(&HandshakeResponse{
		Capabilities: capabilities,
		CollationID:  c.ctx.CollationID,
		User:         c.conf.User,
		AuthResponse: payload,
		Database:     c.conf.DBName,
		AuthPlugin:   plugin,
		ConnectAttrs: defaultConnectAttrs(c.conf.ConnectAttrs),
	}); err != nil {
		return err
	}

	// Any number of switch/more-data round-trips until OK or ERR.
	for {
		msg, err := c.readMessage()
		if err != nil {
			return wrapClientError(KindUnknown, err, "reading auth reply failed")
		}
		switch m := msg.(type) {
		case *OKMessage:
			c.conn.SetDeadline(time.Time{})
			c.loginSuccess()
			return nil

		case *ErrorMessage:
			return wrapClientError(KindAuthFailed, m.ToError(), "authentication rejected")

		case *AuthSwitchRequest:
			factory, ok := lookupAuthPlugin(m.Plugin)
			if !ok {
				return newClientError(KindAuthFailed,
					"server requires auth plugin %q, which is not registered", m.Plugin)
			}
			if log.V(2) {
				log.Infof("conn=%d: switching to auth plugin %v", c.ctx.ConnectionID, m.Plugin)
			}
			auth = factory(c.conf.User, c.conf.Passwd, c.secure)
			payload, _, err := auth.NextPayload(m.Data)
			if err != nil {
				return err
			}
			if err := c.writeMessage(&AuthContinue{Data: payload}); err != nil {
				return err
			}

		case *AuthMoreData:
			payload, _, err := auth.NextPayload(m.Data)
			if err != nil {
				return err
			}
			if payload != nil {
				if err := c.writeMessage(&AuthContinue{Data: payload}); err != nil {
					return err
				}
			}

		default:
			return errProtocol("unexpected %T during authentication", msg)
		}
	}
}

// readMessage synchronously reads one server message. Only used
// before the engine loops start.
func (c *Client) readMessage() (ServerMessage, error) {
	bufs, err := c.slicer.nextLogicalPacket()
	if err != nil {
		return nil, err
	}
	return c.codec.decode(bufs)
}

// writeMessage synchronously frames and flushes one client message.
// Only used before the engine loops start.
func (c *Client) writeMessage(msg ClientMessage) error {
	if err := c.codec.encode(msg, c.writer); err != nil {
		return err
	}
	return c.writer.flush()
}

//
// COM_CHANGE_USER: the auth loop replayed in command phase, expressed
// as a bidirectional exchange.
//

type changeUserExchange struct {
	user     string
	password string
	db       string
	charset  uint8
	caps     uint32
	secure   bool

	req  *Requester
	auth Authenticator
}

func (e *changeUserExchange) Begin(req *Requester) error {
	e.req = req
	// No salt yet: send an empty auth response and let the server
	// issue an auth switch carrying the fresh challenge.
	return req.Emit(&ChangeUser{
		User:         e.user,
		Database:     e.db,
		CharsetID:    e.charset,
		AuthPlugin:   MysqlNativePassword,
		Capabilities: e.caps,
	})
}

func (e *changeUserExchange) Handle(msg ServerMessage, sink *Sink[*OKMessage]) {
	switch m := msg.(type) {
	case *OKMessage:
		sink.Next(m)
		sink.Complete()

	case *ErrorMessage:
		sink.Error(m.ToError())

	case *AuthSwitchRequest:
		factory, ok := lookupAuthPlugin(m.Plugin)
		if !ok {
			sink.Error(newClientError(KindAuthFailed,
				"server requires auth plugin %q, which is not registered", m.Plugin))
			return
		}
		e.auth = factory(e.user, e.password, e.secure)
		payload, _, err := e.auth.NextPayload(m.Data)
		if err != nil {
			sink.Error(err)
			return
		}
		if err := e.req.Emit(&AuthContinue{Data: payload}); err != nil {
			sink.Error(err)
		}

	case *AuthMoreData:
		if e.auth == nil {
			sink.Error(errProtocol("auth continuation without a selected plugin"))
			return
		}
		payload, _, err := e.auth.NextPayload(m.Data)
		if err != nil {
			sink.Error(err)
			return
		}
		if payload != nil {
			if err := e.req.Emit(&AuthContinue{Data: payload}); err != nil {
				sink.Error(err)
			}
		}

	default:
		sink.Error(errProtocol("unexpected %T during change user", msg))
	}
}

func (e *changeUserExchange) Dispose() {}

// ChangeUser re-authenticates the session as another user, resetting
// session state server-side.
func (c *Client) ChangeUser(ctx context.Context, user, password, db string) error {
	ex := &changeUserExchange{
		user:     user,
		password: password,
		db:       db,
		charset:  c.ctx.CollationID,
		caps:     c.ctx.Capabilities,
		secure:   c.secure,
	}
	_, err := ExchangeBidi[*OKMessage](c, ex).Collect(ctx)
	return err
}
