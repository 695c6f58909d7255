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
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"asyncer.io/mysql/go/log"
	"asyncer.io/mysql/go/netbuf"
)

const (
	// outboundDepth is the outbound sink's buffer. Emitting into a
	// full sink fails fast with KindBackpressureOverflow.
	outboundDepth = 16

	// allocMin/allocMax bound the allocator's pooled bucket sizes.
	allocMin = 1 << 10
	allocMax = 1 << 20
)

// Client is one MySQL connection: it owns the socket, the codec
// pipeline and the request queue, and multiplexes exchanges onto the
// strictly sequential wire. All protocol I/O runs on the connection's
// two engine goroutines; callers talk to it through flows.
type Client struct {
	conf  *Config
	ctx   *ConnectionContext
	alloc *netbuf.Allocator

	// conn is the current transport; it is replaced in place during
	// the TLS upgrade, before the engine goroutines exist.
	conn net.Conn

	// secure is set once the transport is TLS-wrapped. Fixed before
	// command phase.
	secure bool

	seq    sequencer
	slicer *envelopeSlicer
	writer *envelopeWriter
	codec  *duplexCodec
	queue  *requestQueue

	// requests is the bounded outbound sink. The write loop drains it
	// in order.
	requests chan ClientMessage

	closing  atomic.Bool
	sslUnsup atomic.Bool
	closed   chan struct{}

	inflightMu sync.Mutex
	inflight   inflight

	loopGroup *errgroup.Group
}

// inflight is the type-erased view of the one active exchange.
type inflight interface {
	// deliver consumes one server message. done reports the exchange
	// terminated; err is its terminal failure, nil for completion.
	deliver(c *Client, msg ServerMessage) (done bool, err error)

	// finish terminates the exchange from the engine (drain path).
	finish(err error)
}

// Connect dials the server and drives the handshake to completion.
// The returned client is in command phase, ready for exchanges.
func Connect(ctx context.Context, conf *Config) (*Client, error) {
	conf = conf.Clone()
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: conf.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", conf.addr())
	if err != nil {
		return nil, NewSQLError(CRConnHostError, SSUnknownSQLState,
			"net.Dialer.DialContext to %v failed: %v", conf.addr(), err)
	}

	c := newClient(conn, conf)
	if err := c.handshake(ctx); err != nil {
		c.closing.Store(true)
		c.conn.Close()
		c.markClosed()
		return nil, err
	}
	return c, nil
}

func newClient(conn net.Conn, conf *Config) *Client {
	c := &Client{
		conf:     conf,
		ctx:      newConnectionContext(),
		alloc:    netbuf.NewAllocator(allocMin, allocMax),
		conn:     conn,
		queue:    newRequestQueue(),
		requests: make(chan ClientMessage, outboundDepth),
		closed:   make(chan struct{}),
	}
	c.slicer = newEnvelopeSlicer(conn, c.alloc, &c.seq)
	c.writer = newEnvelopeWriter(conn, &c.seq)
	c.codec = newDuplexCodec(c.ctx, &c.seq)
	c.ctx.setPhase(PhaseConnecting)
	return c
}

// IsConnected reports whether exchanges may still be admitted.
func (c *Client) IsConnected() bool {
	return !c.closing.Load() && c.ctx.Phase() == PhaseCommand
}

// Allocator exposes the connection's buffer allocator, e.g. for
// building local-infile payloads without copies.
func (c *Client) Allocator() *netbuf.Allocator {
	return c.alloc
}

// Context returns the per-connection state.
func (c *Client) Context() *ConnectionContext {
	return c.ctx
}

// SslUnsupported reports that TLS was requested as preferred but the
// server does not speak it, so the session runs in clear.
func (c *Client) SslUnsupported() bool {
	return c.sslUnsup.Load()
}

// sslUnsupported fires the unsupported event during the handshake.
func (c *Client) sslUnsupported() {
	c.sslUnsup.Store(true)
	log.Warningf("conn=%d: server does not support TLS, continuing in clear", c.ctx.ConnectionID)
}

// loginSuccess transitions into command phase and starts the engine
// loops; from here on user exchanges are admitted.
func (c *Client) loginSuccess() {
	c.ctx.setPhase(PhaseCommand)
	c.startLoops()
	if log.V(2) {
		log.Infof("conn=%d: entering command phase (server %v)",
			c.ctx.ConnectionID, c.ctx.ServerVersion)
	}
}

func (c *Client) String() string {
	state := "activating"
	if c.closing.Load() {
		state = "closing or closed"
	}
	return fmt.Sprintf("Client(%s){connectionId=%d}", state, c.ctx.ConnectionID)
}

//
// Exchange admission.
//

// Exchange submits a request whose response the handler translates
// into a flow of T. The flow is lazy: nothing reaches the wire before
// the first Recv.
func Exchange[T any](c *Client, req ClientMessage, h Handle[T]) *Flow[T] {
	f := newFlow[T](releaseDiscarded[T])
	e := &exchange[T]{flow: f, handle: h}
	f.submit = func() { c.submitExchange(e, req) }
	f.onCancel = e.cancel
	return f
}

// ExchangeBidi submits a bidirectional exchange that emits outbound
// messages over its lifetime (prepared execute/fetch streaming) and
// consumes the server's messages.
func ExchangeBidi[T any](c *Client, ex Exchangeable[T]) *Flow[T] {
	f := newFlow[T](releaseDiscarded[T])
	e := &exchange[T]{flow: f, handle: ex.Handle, bidi: ex}
	f.submit = func() { c.submitBidi(e, ex) }
	f.onCancel = e.cancel
	return f
}

func (c *Client) submitExchange(e inflightCtl, req ClientMessage) {
	if !c.IsConnected() {
		DisposeIfOwned(req)
		e.fail(errExchangeClosed())
		return
	}
	c.queue.submit(&requestTask{
		activate: func() {
			if e.cancelledBeforeActive() {
				DisposeIfOwned(req)
				c.queue.run()
				return
			}
			c.setInflight(e)
			if err := c.emitRequest(req); err != nil {
				c.clearInflight(e)
				e.fail(err)
				c.queue.run()
			}
		},
		dispose: func(err error) {
			DisposeIfOwned(req)
			e.fail(err)
		},
	})
}

func (c *Client) submitBidi(e inflightCtl, ex Exchangeable0) {
	if !c.IsConnected() {
		ex.Dispose()
		e.fail(errExchangeClosed())
		return
	}
	c.queue.submit(&requestTask{
		activate: func() {
			if e.cancelledBeforeActive() {
				ex.Dispose()
				c.queue.run()
				return
			}
			c.setInflight(e)
			if err := ex.Begin(&Requester{send: c.emitRequest}); err != nil {
				c.clearInflight(e)
				ex.Dispose()
				e.fail(wrapError(err))
				c.queue.run()
			}
		},
		dispose: func(err error) {
			ex.Dispose()
			e.fail(err)
		},
	})
}

// Exchangeable0 is the type-erased slice of Exchangeable the engine
// needs at admission time.
type Exchangeable0 interface {
	Begin(req *Requester) error
	Dispose()
}

// inflightCtl extends inflight with the admission-side controls.
type inflightCtl interface {
	inflight
	fail(err error)
	cancelledBeforeActive() bool
}

// Send queues a fire-and-forget message the server will not answer
// (COM_STMT_CLOSE). It still goes through the queue, so ordering with
// surrounding exchanges holds.
func (c *Client) Send(msg ClientMessage) error {
	if !c.IsConnected() {
		DisposeIfOwned(msg)
		return errExchangeClosed()
	}
	errs := make(chan error, 1)
	c.queue.submit(&requestTask{
		activate: func() {
			err := c.emitRequest(msg)
			errs <- err
			c.queue.run()
		},
		dispose: func(err error) {
			DisposeIfOwned(msg)
			errs <- err
		},
	})
	return <-errs
}

// emitRequest places one message into the outbound sink, failing fast
// when it is full. Admission is the queue's business: an exchange that
// was accepted before a close still runs ahead of the Exit message.
func (c *Client) emitRequest(msg ClientMessage) error {
	select {
	case c.requests <- msg:
		return nil
	default:
		DisposeIfOwned(msg)
		return newClientError(KindBackpressureOverflow, "outbound sink is full")
	}
}

func (c *Client) setInflight(e inflight) {
	c.inflightMu.Lock()
	c.inflight = e
	c.inflightMu.Unlock()
}

func (c *Client) clearInflight(e inflight) {
	c.inflightMu.Lock()
	if c.inflight == e {
		c.inflight = nil
	}
	c.inflightMu.Unlock()
}

func (c *Client) currentInflight() inflight {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return c.inflight
}

// takeInflight detaches the active exchange for the drain path.
func (c *Client) takeInflight() inflight {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	e := c.inflight
	c.inflight = nil
	return e
}

//
// Engine loops.
//

func (c *Client) startLoops() {
	g, gctx := errgroup.WithContext(context.Background())
	c.loopGroup = g

	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.writeLoop(gctx) })

	go func() {
		// Either loop failing must unblock the other; the reader only
		// wakes up when the socket dies.
		<-gctx.Done()
		c.conn.Close()
	}()

	go func() {
		err := g.Wait()
		c.terminate(err)
	}()
}

// readLoop slices envelopes, decodes messages and feeds the in-flight
// exchange until the connection dies or a protocol violation occurs.
func (c *Client) readLoop() error {
	for {
		bufs, err := c.slicer.nextLogicalPacket()
		if err != nil {
			return err
		}
		msg, err := c.codec.decode(bufs)
		if err != nil {
			return err
		}
		if log.V(2) {
			log.Infof("conn=%d: response: %v", c.ctx.ConnectionID, msg)
		}

		e := c.currentInflight()
		if e == nil {
			releaseServerMessage(msg)
			return errProtocol("server message %T with no exchange in flight", msg)
		}
		done, termErr := e.deliver(c, msg)
		if done {
			c.clearInflight(e)
			e.finish(termErr)
			c.queue.run()
		}
	}
}

// writeLoop drains the outbound sink onto the wire in order.
func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.requests:
			if log.V(2) {
				log.Infof("conn=%d: request: %T", c.ctx.ConnectionID, msg)
			}
			if err := c.codec.encode(msg, c.writer); err != nil {
				return err
			}
			if err := c.writer.flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

//
// Close and drain.
//

// Close performs a graceful shutdown: the Exit message is queued
// behind any pending exchanges, then the connection is torn down. If
// the context expires first, the close degrades to ForceClose.
func (c *Client) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		select {
		case <-c.closed:
		case <-ctx.Done():
		}
		return nil
	}

	sent := make(chan error, 1)
	c.queue.submit(&requestTask{
		activate: func() {
			select {
			case c.requests <- &Exit{}:
				sent <- nil
			default:
				sent <- newClientError(KindBackpressureOverflow, "outbound sink is full")
			}
			// The slot is not released: nothing may follow Exit.
		},
		dispose: func(err error) {
			sent <- err
		},
	})

	select {
	case err := <-sent:
		if err != nil {
			log.Errorf("conn=%d: exit message failed (%v), force closing", c.ctx.ConnectionID, err)
			return c.ForceClose()
		}
	case <-ctx.Done():
		return c.ForceClose()
	}

	// The server answers COM_QUIT by closing; the read loop exits and
	// drains with expectedClosed.
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return c.ForceClose()
	}
}

// ForceClose closes the transport without sending anything.
func (c *Client) ForceClose() error {
	c.closing.Store(true)
	err := c.conn.Close()
	if c.loopGroup == nil {
		// Engine never started (handshake-time close).
		c.drain(errExpectedClosed())
		c.markClosed()
	}
	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
	}
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// terminate runs once the engine loops stopped: classify the close,
// drain everything, release the socket.
func (c *Client) terminate(loopErr error) {
	if c.closing.CompareAndSwap(false, true) {
		log.Warningf("conn=%d: connection has been closed by peer", c.ctx.ConnectionID)
		inflightErr := errUnexpectedClosed()
		if KindOf(loopErr) == KindProtocolViolation {
			inflightErr = loopErr.(*ClientError)
		}
		c.drain(inflightErr)
	} else {
		c.drain(errExpectedClosed())
	}
	c.conn.Close()
	c.markClosed()
}

// drain disposes the queue and then terminates the in-flight response
// stream — in that order, so in-flight handlers see exactly one
// terminal signal.
func (c *Client) drain(inflightErr error) {
	c.ctx.setPhase(PhaseDisconnecting)
	c.queue.dispose(errExchangeClosed())
	if e := c.takeInflight(); e != nil {
		e.finish(inflightErr)
	}
}

func (c *Client) markClosed() {
	c.ctx.setPhase(PhaseClosed)
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

//
// The typed exchange.
//

// exchange adapts one typed handler/exchangeable to the engine's
// type-erased in-flight slot.
type exchange[T any] struct {
	flow   *Flow[T]
	handle Handle[T]
	bidi   Exchangeable[T]

	active     atomic.Bool
	discarding atomic.Bool
}

func (e *exchange[T]) deliver(c *Client, msg ServerMessage) (bool, error) {
	if e.discarding.Load() {
		// Cancelled: release undelivered payloads and keep draining
		// the wire until the response cycle completes.
		releaseServerMessage(msg)
		if c.codec.responseCycleDone(msg) {
			return true, ErrCancelled
		}
		return false, nil
	}

	sink := &Sink[T]{emit: e.flow.emit}
	e.handle(msg, sink)
	if !sink.completed {
		return false, nil
	}
	if e.bidi != nil {
		e.bidi.Dispose()
	}
	return true, sink.err
}

func (e *exchange[T]) finish(err error) {
	if e.bidi != nil {
		e.bidi.Dispose()
	}
	e.flow.terminate(err)
}

func (e *exchange[T]) fail(err error) {
	e.flow.terminate(err)
}

// cancel is the flow's cancellation hook.
func (e *exchange[T]) cancel() {
	e.discarding.Store(true)
	if e.bidi != nil {
		e.bidi.Dispose()
	}
}

// cancelledBeforeActive is consulted at activation; a task cancelled
// while queued never touches the wire.
func (e *exchange[T]) cancelledBeforeActive() bool {
	if e.active.CompareAndSwap(false, true) {
		return e.discarding.Load()
	}
	return true
}

// responseCycleDone reports whether the message ends the current
// request/response cycle. Used only while draining a cancelled
// exchange; a live handler signals completion itself.
func (c *duplexCodec) responseCycleDone(msg ServerMessage) bool {
	if c.mode != modeAwaitCommandReply {
		return false
	}
	switch m := msg.(type) {
	case *OKMessage:
		return m.StatusFlags&ServerMoreResultsExists == 0
	case *EOFMessage:
		return m.StatusFlags&ServerMoreResultsExists == 0
	case *ErrorMessage:
		return true
	default:
		return false
	}
}

// releaseServerMessage releases whatever buffers a message owns.
func releaseServerMessage(msg ServerMessage) {
	if r, ok := msg.(interface{ Release() bool }); ok {
		r.Release()
	}
}

//
// Convenience exchanges carried by the engine itself.
//

// okHandler completes on OK and fails on ERR; anything else is a
// protocol violation.
func okHandler(msg ServerMessage, sink *Sink[*OKMessage]) {
	switch m := msg.(type) {
	case *OKMessage:
		sink.Next(m)
		sink.Complete()
	case *ErrorMessage:
		sink.Error(m.ToError())
	default:
		sink.Error(errProtocol("unexpected %T while waiting for OK", msg))
	}
}

// Ping runs COM_PING end to end.
func (c *Client) Ping(ctx context.Context) error {
	_, err := Exchange(c, &Ping{}, okHandler).Collect(ctx)
	return err
}

// ResetConnection runs COM_RESET_CONNECTION, clearing session state.
func (c *Client) ResetConnection(ctx context.Context) error {
	_, err := Exchange(c, &ResetConnection{}, okHandler).Collect(ctx)
	return err
}
