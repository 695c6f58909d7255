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

	"github.com/pkg/errors"
)

// ErrorKind classifies engine failures. Kinds are stable: callers may
// switch on them to decide retry/teardown policy.
type ErrorKind int

const (
	// KindUnknown is a failure the engine could not classify.
	KindUnknown ErrorKind = iota

	// KindProtocolViolation is a bad envelope or an unexpected packet.
	// Fatal to the connection.
	KindProtocolViolation

	// KindExchangeClosed is an exchange attempted on a closing or
	// closed client.
	KindExchangeClosed

	// KindUnexpectedClosed is the peer closing the connection
	// mid-command.
	KindUnexpectedClosed

	// KindExpectedClosed is the graceful close observed after the Exit
	// message was sent.
	KindExpectedClosed

	// KindTLSNegotiation is a failed TLS upgrade, or TLS required but
	// not supported by the server.
	KindTLSNegotiation

	// KindAuthFailed is a failed authentication hand-off. Fatal to the
	// connection.
	KindAuthFailed

	// KindBackpressureOverflow is the outbound sink overflowing; the
	// request that hit it is disposed and fails.
	KindBackpressureOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol violation"
	case KindExchangeClosed:
		return "exchange closed"
	case KindUnexpectedClosed:
		return "unexpected closed"
	case KindExpectedClosed:
		return "expected closed"
	case KindTLSNegotiation:
		return "tls negotiation"
	case KindAuthFailed:
		return "auth failed"
	case KindBackpressureOverflow:
		return "backpressure overflow"
	default:
		return "unknown"
	}
}

// ClientError is an engine-level failure with a stable kind. Server
// failures (ERR packets) are *SQLError instead.
type ClientError struct {
	Kind  ErrorKind
	Msg   string
	cause error
}

func (e *ClientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Cause returns the underlying error, for github.com/pkg/errors chains.
func (e *ClientError) Cause() error { return e.cause }

// Unwrap returns the underlying error, for errors.Is/As chains.
func (e *ClientError) Unwrap() error { return e.cause }

func newClientError(kind ErrorKind, format string, args ...any) *ClientError {
	return &ClientError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapClientError(kind ErrorKind, cause error, msg string) *ClientError {
	return &ClientError{Kind: kind, Msg: msg, cause: cause}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed.
// Returns KindUnknown for non-engine errors.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

func errExchangeClosed() *ClientError {
	return newClientError(KindExchangeClosed, "cannot exchange on a closing or closed connection")
}

func errUnexpectedClosed() *ClientError {
	return newClientError(KindUnexpectedClosed, "connection closed by peer")
}

func errExpectedClosed() *ClientError {
	return newClientError(KindExpectedClosed, "connection closed")
}

func errProtocol(format string, args ...any) *ClientError {
	return newClientError(KindProtocolViolation, format, args...)
}

// wrapError funnels an arbitrary transport or decode failure into the
// taxonomy, preserving already-classified errors and server errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return err
	}
	var se *SQLError
	if errors.As(err, &se) {
		return err
	}
	return wrapClientError(KindUnknown, err, "connection failure")
}
