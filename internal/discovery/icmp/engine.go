// Package icmp implements a raw ICMP echo ping engine: a single raw
// socket, a FIFO send queue drained at a fixed inter-send delay,
// id/sequence-matched in-flight replies with retry and timeout, and
// asynchronous reverse-DNS resolution on success.
package icmp

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/miekg/dns"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/logging"
)

// Error is the ping error taxonomy.
type Error int

const (
	NoError Error = iota
	ErrAborted
	ErrInvalidResponse
	ErrNetworkDown
	ErrNetworkUnreachable
	ErrPermissionDenied
	ErrSocketError
	ErrTimeout
	ErrHostUnreachable
	ErrInvalidHostAddress
	ErrHostNameLookupFailed
	ErrHostNameNotFound
)

func (e Error) Error() string {
	switch e {
	case NoError:
		return "no error"
	case ErrAborted:
		return "aborted"
	case ErrInvalidResponse:
		return "invalid response"
	case ErrNetworkDown:
		return "network down"
	case ErrNetworkUnreachable:
		return "network unreachable"
	case ErrPermissionDenied:
		return "permission denied"
	case ErrSocketError:
		return "socket error"
	case ErrTimeout:
		return "timeout"
	case ErrHostUnreachable:
		return "host unreachable"
	case ErrInvalidHostAddress:
		return "invalid host address"
	case ErrHostNameLookupFailed:
		return "host name lookup failed"
	case ErrHostNameNotFound:
		return "host name not found"
	default:
		return "unknown error"
	}
}

// retryable reports whether a ping may be retried after this error.
func (e Error) retryable() bool {
	switch e {
	case ErrAborted, ErrInvalidHostAddress, ErrPermissionDenied, NoError:
		return false
	default:
		return true
	}
}

const (
	packetSize   = 64
	headerSize   = 8
	payloadSize  = packetSize - headerSize
	defaultTTL   = 64
	sendInterval = 20 * time.Millisecond
)

// Reply is a one-shot handle for one ping() call, carrying the current
// retry's request id/sequence and its eventual result.
type Reply struct {
	engine   *Engine
	target   net.IP
	hostName string
	lookup   bool
	retries  int

	mu         sync.Mutex
	requestID  uint16
	sequence   uint16
	retryCount int
	startTime  time.Time
	aborted    bool

	done     chan struct{}
	once     sync.Once
	err      Error
	rttMS    float64
	resolved string

	retryCh chan retryEvent
}

type retryEvent struct {
	err   Error
	count int
}

// Done returns a channel closed when the reply is finished.
func (r *Reply) Done() <-chan struct{} { return r.done }

// Result returns the resolved hostname (if requested), round-trip time in
// milliseconds, and error once Done() is closed.
func (r *Reply) Result() (hostName string, rttMillis float64, err Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved, r.rttMS, r.err
}

// Retries returns a channel of retry notifications, one per re-send.
func (r *Reply) Retries() <-chan retryEvent { return r.retryCh }

// Abort marks the reply aborted, immediately evicts it from the engine's
// in-flight table if it was already sent, and finishes it with
// ErrAborted — a caller blocked on Done() unblocks within the same tick
// rather than waiting out the retry timeout.
func (r *Reply) Abort() {
	r.mu.Lock()
	r.aborted = true
	reqID := r.requestID
	r.mu.Unlock()

	if r.engine != nil && reqID != 0 {
		r.engine.dropInFlight(reqID)
	}
	r.finish(ErrAborted, 0, "")
}

func (r *Reply) finish(err Error, rttMS float64, resolved string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.rttMS = rttMS
		r.resolved = resolved
		r.mu.Unlock()
		close(r.done)
	})
}

// Engine owns a single raw ICMP socket and the in-flight reply table.
type Engine struct {
	log *logging.Logger
	clk clock.Clock

	retryTimeout time.Duration
	retries      int

	mu        sync.Mutex
	conn      *icmp.PacketConn
	available bool
	openErr   Error

	queue      chan *Reply
	inFlight   map[uint16]*Reply
	timers     map[uint16]*time.Timer

	resolver *net.Resolver

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Options configures the ping engine.
type Options struct {
	RetryTimeout time.Duration
	DefaultRetries int
	Clock        clock.Clock
	Logger       *logging.Logger
}

// New opens a raw ICMP socket (ip4:icmp) and starts its send/receive loops.
// A socket-open failure disables the engine for the process lifetime
// rather than aborting the caller: Available() reports false and Ping
// returns a reply finished with the originating error.
func New(opts Options) *Engine {
	if opts.RetryTimeout == 0 {
		opts.RetryTimeout = 5 * time.Second
	}
	if opts.DefaultRetries == 0 {
		opts.DefaultRetries = 3
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("icmp")
	}

	e := &Engine{
		log:          opts.Logger,
		clk:          opts.Clock,
		retryTimeout: opts.RetryTimeout,
		retries:      opts.DefaultRetries,
		queue:        make(chan *Reply, 1024),
		inFlight:     make(map[uint16]*Reply),
		timers:       make(map[uint16]*time.Timer),
		closeCh:      make(chan struct{}),
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		e.openErr = classifyOpenError(err)
		e.log.Warn("icmp socket unavailable", "error", err)
		return e
	}
	if p := conn.IPv4PacketConn(); p != nil {
		_ = p.SetTTL(defaultTTL)
	}

	e.conn = conn
	e.available = true
	e.resolver = &net.Resolver{}

	go e.sendLoop()
	go e.receiveLoop()

	return e
}

func classifyOpenError(err error) Error {
	switch {
	case isPermissionErr(err):
		return ErrPermissionDenied
	default:
		return ErrSocketError
	}
}

func isPermissionErr(err error) bool {
	type permErr interface{ Timeout() bool }
	// icmp.ListenPacket wraps os.SyscallError; inspect the chain textually
	// since golang.org/x/net does not export a typed permission error.
	return err != nil && (containsAny(err.Error(), "permission denied", "operation not permitted"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// Available reports whether the raw ICMP socket opened successfully.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Ping allocates a reply and enqueues it for sending. lookupHost requests
// an asynchronous reverse-DNS resolution once the echo reply arrives.
func (e *Engine) Ping(addr string, retries int, lookupHost bool) *Reply {
	r := &Reply{
		engine:   e,
		hostName: addr,
		lookup:   lookupHost,
		retries:  retries,
		sequence: 1,
		done:     make(chan struct{}),
		retryCh:  make(chan retryEvent, 8),
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		resolved, err := net.LookupIP(addr)
		if err != nil || len(resolved) == 0 {
			r.finish(ErrInvalidHostAddress, 0, "")
			return r
		}
		ip = resolved[0]
	}
	r.target = ip.To4()
	if r.target == nil {
		r.finish(ErrInvalidHostAddress, 0, "")
		return r
	}

	if !e.Available() {
		r.finish(e.openErr, 0, "")
		return r
	}

	select {
	case e.queue <- r:
	case <-e.closeCh:
		r.finish(ErrAborted, 0, "")
	}
	return r
}

// Close shuts the engine down, closing the socket and aborting in-flight
// replies.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	e.mu.Lock()
	conn := e.conn
	pending := make([]*Reply, 0, len(e.inFlight))
	for id, r := range e.inFlight {
		pending = append(pending, r)
		if t, ok := e.timers[id]; ok {
			t.Stop()
		}
	}
	e.inFlight = make(map[uint16]*Reply)
	e.timers = make(map[uint16]*time.Timer)
	e.mu.Unlock()
	for _, r := range pending {
		r.finish(ErrAborted, 0, "")
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (e *Engine) sendLoop() {
	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			select {
			case r := <-e.queue:
				e.send(r)
			default:
			}
		}
	}
}

func (e *Engine) send(r *Reply) {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		r.finish(ErrAborted, 0, "")
		return
	}
	if r.requestID == 0 {
		r.requestID = e.allocateID()
	}
	reqID := r.requestID
	seq := r.sequence
	r.startTime = e.clk.Now()
	r.mu.Unlock()

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = ' '
	}

	msg := &icmp.Message{
		Type: ipv4ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(reqID),
			Seq:  int(seq),
			Data: payload,
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		e.finishWithRetry(r, ErrSocketError)
		return
	}

	e.mu.Lock()
	e.inFlight[reqID] = r
	timer := time.AfterFunc(e.retryTimeout, func() { e.onTimeout(reqID) })
	e.timers[reqID] = timer
	e.mu.Unlock()

	dst := &net.IPAddr{IP: r.target}
	if _, err := e.conn.WriteTo(wire, dst); err != nil {
		e.mu.Lock()
		delete(e.inFlight, reqID)
		delete(e.timers, reqID)
		e.mu.Unlock()
		timer.Stop()
		e.finishWithRetry(r, classifySendError(err))
		return
	}
}

// ipv4ICMPTypeEcho avoids importing golang.org/x/net/ipv4's type constant
// directly in the Body literal above (it expects icmp.Type).
var ipv4ICMPTypeEcho = ipv4.ICMPTypeEcho

func classifySendError(err error) Error {
	switch {
	case containsAny(err.Error(), "network is down"):
		return ErrNetworkDown
	case containsAny(err.Error(), "network is unreachable"):
		return ErrNetworkUnreachable
	case containsAny(err.Error(), "permission denied", "operation not permitted"):
		return ErrPermissionDenied
	default:
		return ErrSocketError
	}
}

func (e *Engine) allocateID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		id := uint16(rand.Intn(65535)) + 1
		if _, exists := e.inFlight[id]; !exists {
			return id
		}
	}
}

// dropInFlight immediately evicts reqID from the in-flight table and stops
// its retry timer, used by Reply.Abort to drain a cancelled ping without
// waiting for its timer to fire.
func (e *Engine) dropInFlight(reqID uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[reqID]; ok {
		timer.Stop()
		delete(e.timers, reqID)
	}
	delete(e.inFlight, reqID)
}

func (e *Engine) onTimeout(reqID uint16) {
	e.mu.Lock()
	r, ok := e.inFlight[reqID]
	if ok {
		delete(e.inFlight, reqID)
		delete(e.timers, reqID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.finishWithRetry(r, ErrTimeout)
}

// finishWithRetry implements the timeout/retry algorithm: retry with a
// fresh sequence number if retries remain and the error is retryable,
// otherwise finish the reply.
func (e *Engine) finishWithRetry(r *Reply, err Error) {
	r.mu.Lock()
	aborted := r.aborted
	r.mu.Unlock()
	if aborted {
		r.finish(ErrAborted, 0, "")
		return
	}

	r.mu.Lock()
	canRetry := r.retryCount < r.retries && err.retryable()
	if canRetry {
		r.retryCount++
		r.sequence++
	}
	count := r.retryCount
	r.mu.Unlock()

	if !canRetry {
		r.finish(err, 0, "")
		return
	}

	select {
	case r.retryCh <- retryEvent{err: err, count: count}:
	default:
	}

	select {
	case e.queue <- r:
	case <-e.closeCh:
		r.finish(ErrAborted, 0, "")
	}
}

func (e *Engine) receiveLoop() {
	buf := make([]byte, 2*packetSize+64)
	for {
		select {
		case <-e.closeCh:
			return
		default:
		}

		e.conn.SetReadDeadline(e.clk.Now().Add(time.Second))
		n, peer, err := e.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-e.closeCh:
				return
			default:
				continue
			}
		}

		e.handlePacket(buf[:n], peer)
	}
}

func (e *Engine) handlePacket(data []byte, peer net.Addr) {
	msg, err := icmp.ParseMessage(1 /* ICMP protocol number */, data)
	if err != nil {
		return
	}

	switch msg.Type {
	case ipv4.ICMPTypeEchoReply:
		body, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return
		}
		e.handleEchoReply(uint16(body.ID), uint16(body.Seq), peer)
	case ipv4.ICMPTypeDestinationUnreachable:
		body, ok := msg.Body.(*icmp.DstUnreach)
		if !ok || len(body.Data) < headerSize {
			return
		}
		e.handleDestUnreach(body.Data)
	}
}

func (e *Engine) handleEchoReply(id, seq uint16, peer net.Addr) {
	e.mu.Lock()
	r, ok := e.inFlight[id]
	if ok {
		delete(e.inFlight, id)
		if t, tok := e.timers[id]; tok {
			t.Stop()
			delete(e.timers, id)
		}
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	target := r.target
	expectSeq := r.sequence
	start := r.startTime
	lookup := r.lookup
	r.mu.Unlock()

	if udpAddr, ok := peer.(*net.IPAddr); ok {
		if !udpAddr.IP.Equal(target) {
			e.finishWithRetry(r, ErrHostUnreachable)
			return
		}
	}
	if seq != expectSeq {
		e.finishWithRetry(r, ErrInvalidResponse)
		return
	}

	rtt := roundTo2(float64(e.clk.Now().Sub(start).Microseconds()) / 1000.0)

	if !lookup {
		r.finish(NoError, rtt, "")
		return
	}

	go e.resolveHostName(r, rtt)
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func (e *Engine) resolveHostName(r *Reply, rttMS float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	names, err := e.resolver.LookupAddr(ctx, r.target.String())
	if err != nil || len(names) == 0 {
		r.finish(NoError, rttMS, "")
		return
	}
	r.finish(NoError, rttMS, dns.Fqdn(names[0]))
}

func (e *Engine) handleDestUnreach(nested []byte) {
	// nested carries the offending IP header + leading 8 bytes of the
	// original ICMP request.
	if len(nested) < 20+headerSize {
		return
	}
	ihl := int(nested[0]&0x0f) * 4
	if ihl < 20 || len(nested) < ihl+headerSize {
		return
	}
	origICMP := nested[ihl:]
	id := uint16(origICMP[4])<<8 | uint16(origICMP[5])
	seq := uint16(origICMP[6])<<8 | uint16(origICMP[7])
	_ = seq

	e.mu.Lock()
	r, ok := e.inFlight[id]
	if ok {
		delete(e.inFlight, id)
		if t, tok := e.timers[id]; tok {
			t.Stop()
			delete(e.timers, id)
		}
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.finishWithRetry(r, ErrHostUnreachable)
}
