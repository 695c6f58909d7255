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
)

// Cursor types for COM_STMT_EXECUTE.
const (
	CursorTypeNoCursor = 0x00
	CursorTypeReadOnly = 0x01
)

// Statement is one server-side prepared statement.
type Statement struct {
	c *Client

	ID          uint32
	ParamCount  uint16
	ColumnCount uint16
}

// prepareHandler collects the prepare reply: the prepared OK plus
// parameter and column definitions, with legacy EOF separators when
// the server still sends them.
type prepareHandler struct {
	deprecateEOF bool

	ok            *PreparedOK
	remainingDefs int
	blocks        int
}

func (h *prepareHandler) handle(msg ServerMessage, sink *Sink[ServerMessage]) {
	switch m := msg.(type) {
	case *ErrorMessage:
		sink.Error(m.ToError())

	case *PreparedOK:
		h.ok = m
		h.remainingDefs = int(m.ParamCount) + int(m.ColumnCount)
		if m.ParamCount > 0 {
			h.blocks++
		}
		if m.ColumnCount > 0 {
			h.blocks++
		}
		sink.Next(msg)
		if h.remainingDefs == 0 {
			sink.Complete()
		}

	case *ColumnDefinition:
		h.remainingDefs--
		sink.Next(msg)
		if h.remainingDefs == 0 && (h.deprecateEOF || h.blocks == 0) {
			sink.Complete()
		}

	case *EOFMessage:
		h.blocks--
		if h.remainingDefs == 0 && h.blocks == 0 {
			sink.Complete()
		}

	default:
		sink.Error(errProtocol("unexpected %T in prepare reply", msg))
	}
}

// Prepare compiles sql server-side.
func (c *Client) Prepare(ctx context.Context, sql string) (*Statement, error) {
	h := &prepareHandler{deprecateEOF: c.ctx.DeprecateEOF()}
	if _, err := Exchange(c, &Prepare{SQL: sql}, h.handle).Collect(ctx); err != nil {
		return nil, err
	}
	return &Statement{
		c:           c,
		ID:          h.ok.StatementID,
		ParamCount:  h.ok.ParamCount,
		ColumnCount: h.ok.ColumnCount,
	}, nil
}

// executeExchange streams a COM_STMT_EXECUTE response, feeding
// COM_STMT_FETCH requests while a server cursor stays open.
type executeExchange struct {
	stmtID    uint32
	params    []byte
	fetchSize uint32

	req *Requester

	remainingDefs int
	inRows        bool
}

func (e *executeExchange) Begin(req *Requester) error {
	e.req = req
	cursor := byte(CursorTypeNoCursor)
	if e.fetchSize > 0 {
		cursor = CursorTypeReadOnly
	}
	return req.Emit(&Execute{
		StatementID: e.stmtID,
		CursorType:  cursor,
		ParamsBlock: e.params,
	})
}

func (e *executeExchange) Handle(msg ServerMessage, sink *Sink[ServerMessage]) {
	switch m := msg.(type) {
	case *ErrorMessage:
		sink.Error(m.ToError())

	case *OKMessage:
		if !m.EndOfResult() {
			// No result set at all.
			sink.Next(msg)
			sink.Complete()
			return
		}
		// Deprecated-EOF terminator of a row block.
		sink.Next(msg)
		if !e.continueCursor(m.StatusFlags, sink) {
			sink.Complete()
		}

	case *ColumnCount:
		e.remainingDefs = int(m.Count)
		sink.Next(msg)

	case *ColumnDefinition:
		e.remainingDefs--
		sink.Next(msg)

	case *EOFMessage:
		if !e.inRows && e.remainingDefs == 0 {
			// Separator after metadata. With a cursor the rows are
			// not inline; start fetching.
			if m.StatusFlags&ServerStatusCursorExists != 0 && e.fetchSize > 0 {
				e.inRows = true
				if err := e.req.Emit(&Fetch{StatementID: e.stmtID, NumRows: e.fetchSize}); err != nil {
					sink.Error(err)
				}
				return
			}
			e.inRows = true
			return
		}
		// Row-block terminator.
		if !e.continueCursor(m.StatusFlags, sink) {
			sink.Complete()
		}

	case *RowMessage:
		e.inRows = true
		sink.Next(msg)

	default:
		sink.Error(errProtocol("unexpected %T in execute reply", msg))
	}
}

// continueCursor issues the next fetch when the cursor has more rows.
// It reports whether the exchange stays open.
func (e *executeExchange) continueCursor(status uint16, sink *Sink[ServerMessage]) bool {
	if e.fetchSize == 0 || status&ServerStatusCursorExists == 0 || status&ServerStatusLastRowSent != 0 {
		return false
	}
	if err := e.req.Emit(&Fetch{StatementID: e.stmtID, NumRows: e.fetchSize}); err != nil {
		sink.Error(err)
		return true
	}
	return true
}

func (e *executeExchange) Dispose() {}

// Execute runs the statement with a pre-encoded parameter block and
// streams the raw response messages. fetchSize > 0 opens a read-only
// server cursor and pages rows with COM_STMT_FETCH.
func (s *Statement) Execute(params []byte, fetchSize uint32) *Flow[ServerMessage] {
	return ExchangeBidi[ServerMessage](s.c, &executeExchange{
		stmtID:    s.ID,
		params:    params,
		fetchSize: fetchSize,
	})
}

// Reset clears the statement's accumulated state server-side.
func (s *Statement) Reset(ctx context.Context) error {
	_, err := Exchange(s.c, &StmtReset{StatementID: s.ID}, okHandler).Collect(ctx)
	return err
}

// Close deallocates the statement. The server sends no reply.
func (s *Statement) Close() error {
	return s.c.Send(&PreparedClose{StatementID: s.ID})
}
