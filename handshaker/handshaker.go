// Package handshaker implements the HandshakerPipe: a single pipeline.Pipe
// that drives the XMPP stream lifecycle end to end — stream opening,
// feature negotiation (StartTLS, SASL, resource binding), and orderly
// closure — grounded on the teacher's per-feature StreamFeature.Negotiate
// closures (sasl.go, starttls.go, bind.go), collapsed into one explicit
// state machine because this architecture negotiates inside a pipe rather
// than inside a Session.Negotiator loop.
package handshaker

import (
	"errors"
	"fmt"
	"sync"

	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/jid"
	"go.xmppcore.dev/xmpp/pipeline"
	"go.xmppcore.dev/xmpp/scram"
	"go.xmppcore.dev/xmpp/stream"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// State is the HandshakerPipe's position in the stream lifecycle.
type State int

// Handshaker states, in protocol order.
const (
	Initialized State = iota
	Started
	Negotiating
	Completed
	StreamClosing
	StreamClosed
	Disposed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Started:
		return "STARTED"
	case Negotiating:
		return "NEGOTIATING"
	case Completed:
		return "COMPLETED"
	case StreamClosing:
		return "STREAM_CLOSING"
	case StreamClosed:
		return "STREAM_CLOSED"
	case Disposed:
		return "DISPOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrRegisteringNotSupported is returned by New when registering is true;
// in-band registration is out of scope here.
var ErrRegisteringNotSupported = errors.New("handshaker: in-band registration is not supported")

// DefaultMechanisms is the preferred SASL mechanism order used when New is
// given no mechanism list.
var DefaultMechanisms = []string{"SCRAM-SHA-1"}

// Host is the narrow set of callbacks the HandshakerPipe needs from its
// session. The handshaker holds its session only through this interface,
// never the concrete type, to break the cyclic session<->handshaker
// reference: the session reaches the handshaker through the pipeline, the
// handshaker reaches the session only through Host.
type Host interface {
	// Domain is the expected "from" address on a stream restart.
	Domain() string
	// DeployTLS asks the transport to begin upgrading the underlying
	// connection to TLS. The returned channel receives exactly one value
	// (nil on success) when the upgrade completes.
	DeployTLS() <-chan error
	// EmitFeatureNegotiated notifies the session that the named feature
	// (its local name, e.g. "starttls") has finished negotiating.
	EmitFeatureNegotiated(local string)
	// EmitHandshakeError notifies the session that negotiation failed
	// terminally with err.
	EmitHandshakeError(err error)
	// SubscribeConnectionTerminated returns a channel that fires once if
	// the transport is lost, and a cancel function to unsubscribe.
	SubscribeConnectionTerminated() (<-chan struct{}, func())
}

// Handshaker is the HandshakerPipe. It implements pipeline.Pipe.
type Handshaker struct {
	host Host

	authnJID   jid.JID
	authzJID   jid.JID
	lookup     scram.CredentialLookup
	mechanisms []string
	resource   string

	mu                 sync.Mutex
	state              State
	negotiated         map[string]bool
	negotiatingFeature *stream.Feature

	bindReqID string
	fullJID   jid.JID

	scramClient           *scram.Client
	selectedMechanismName string

	lastClientStreamErr *stream.Error
	lastServerStreamErr *stream.Error
	lastHandshakeErr    error

	pl          *pipeline.Pipeline
	pending     sync.Map // *xmldoc.Element -> struct{}, self-originated writes
	cancelTerm  func()
	closeWaiters []chan struct{}
}

// New constructs a Handshaker. mechanisms defaults to DefaultMechanisms
// when nil. registering must be false; this module does not implement
// in-band registration.
func New(host Host, authnJID, authzJID jid.JID, lookup scram.CredentialLookup, mechanisms []string, resource string, registering bool) (*Handshaker, error) {
	if registering {
		return nil, ErrRegisteringNotSupported
	}
	if mechanisms == nil {
		mechanisms = DefaultMechanisms
	}
	return &Handshaker{
		host:       host,
		authnJID:   authnJID,
		authzJID:   authzJID,
		lookup:     lookup,
		mechanisms: mechanisms,
		resource:   resource,
		negotiated: make(map[string]bool),
	}, nil
}

// State returns the handshaker's current state.
func (h *Handshaker) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// JID returns the negotiated full JID once resource binding has completed.
func (h *Handshaker) JID() jid.JID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fullJID
}

// Err returns the last recorded handshake error, or nil.
func (h *Handshaker) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHandshakeErr
}

// OnAddedToPipeline implements pipeline.Pipe.
func (h *Handshaker) OnAddedToPipeline(pl *pipeline.Pipeline) {
	h.pl = pl
	term, cancel := h.host.SubscribeConnectionTerminated()
	h.cancelTerm = cancel
	go func() {
		// A value or a close both mean the transport was lost.
		<-term
		h.forceClosed()
	}()
	pl.OnceRunning(h.start)
}

// OnRemovedFromPipeline implements pipeline.Pipe.
func (h *Handshaker) OnRemovedFromPipeline(pl *pipeline.Pipeline) {
	h.mu.Lock()
	h.state = Disposed
	waiters := h.closeWaiters
	h.closeWaiters = nil
	h.mu.Unlock()
	if h.cancelTerm != nil {
		h.cancelTerm()
	}
	for _, w := range waiters {
		close(w)
	}
}

func (h *Handshaker) start() {
	h.mu.Lock()
	if h.state != Initialized {
		h.mu.Unlock()
		return
	}
	h.state = Started
	h.mu.Unlock()

	open := xmldoc.New(ns.Framing, "open")
	open.SetAttribute("to", h.host.Domain())
	open.SetAttribute("version", "1.0")
	h.sendRaw(open)
}

func (h *Handshaker) forceClosed() {
	h.mu.Lock()
	if h.state == Disposed {
		h.mu.Unlock()
		return
	}
	h.state = StreamClosed
	waiters := h.closeWaiters
	h.closeWaiters = nil
	h.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// sendRaw pushes el directly onto the pipeline's write path, marking it so
// this handshaker's own OnWriting hook forwards it unconditionally instead
// of applying the completed-gate rule meant for application stanzas.
func (h *Handshaker) sendRaw(el *xmldoc.Element) {
	h.pending.Store(el, struct{}{})
	h.pl.Write(el)
}

// OnWriting implements pipeline.Pipe. Documents this handshaker originated
// itself (stream openers, SASL/StartTLS/bind control elements) always
// forward; any other document is forwarded only once negotiation has
// COMPLETED, so application stanzas cannot escape before the stream is
// authenticated and bound. Non-document objects always forward.
func (h *Handshaker) OnWriting(pl *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	el, ok := obj.(*xmldoc.Element)
	if !ok {
		out.Emit(obj)
		return nil
	}
	if _, mine := h.pending.LoadAndDelete(el); mine {
		out.Emit(el)
		return nil
	}
	if h.State() == Completed {
		out.Emit(el)
	}
	return nil
}

// CatchReadException implements pipeline.ExceptionCatcher by recording the
// cause as the handshake error, then rethrowing so the pipeline still raises
// ExceptionCaught for observers. It does not close the stream.
func (h *Handshaker) CatchReadException(pl *pipeline.Pipeline, cause error) error {
	h.recordHandshakeError(cause)
	return cause
}

// CatchWriteException is the write-direction counterpart of
// CatchReadException.
func (h *Handshaker) CatchWriteException(pl *pipeline.Pipeline, cause error) error {
	h.recordHandshakeError(cause)
	return cause
}

func (h *Handshaker) recordHandshakeError(err error) {
	h.mu.Lock()
	h.lastHandshakeErr = err
	h.mu.Unlock()
	h.host.EmitHandshakeError(err)
}

func (h *Handshaker) sendStreamError(cond stream.Condition, text string) error {
	streamErr := stream.Error{Condition: cond, Text: text}
	h.mu.Lock()
	h.lastClientStreamErr = &streamErr
	h.mu.Unlock()
	h.sendRaw(streamErr.Element())
	return h.closeStreamLocked(streamErr)
}

func (h *Handshaker) closeStreamLocked(cause error) error {
	h.mu.Lock()
	switch h.state {
	case StreamClosed, Initialized:
		h.mu.Unlock()
		return nil
	case Disposed:
		h.mu.Unlock()
		return errors.New("handshaker: cannot close a disposed handshaker")
	}
	h.state = StreamClosing
	h.mu.Unlock()

	h.sendRaw(xmldoc.New(ns.Framing, "close"))
	h.recordHandshakeError(cause)
	return nil
}

// CloseStream sends a responsive <close/> and transitions to
// STREAM_CLOSING, returning a channel that closes once STREAM_CLOSED is
// reached. Idempotent: already-closed or not-yet-started handshakers
// return an already-closed channel immediately; a disposed handshaker
// returns an error.
func (h *Handshaker) CloseStream() (<-chan struct{}, error) {
	h.mu.Lock()
	switch h.state {
	case StreamClosed, Initialized:
		done := make(chan struct{})
		close(done)
		h.mu.Unlock()
		return done, nil
	case Disposed:
		h.mu.Unlock()
		return nil, errors.New("handshaker: cannot close a disposed handshaker")
	}
	h.state = StreamClosing
	done := make(chan struct{})
	h.closeWaiters = append(h.closeWaiters, done)
	h.mu.Unlock()

	h.sendRaw(xmldoc.New(ns.Framing, "close"))
	return done, nil
}

func featureKey(f stream.Feature) string { return f.Namespace + " " + f.Local }

// allMandatoryNegotiatedLocked reports whether every feature in
// stream.NegotiationOrder has been recorded as negotiated. Caller must
// hold h.mu.
func (h *Handshaker) allMandatoryNegotiatedLocked() bool {
	for _, f := range stream.NegotiationOrder {
		if !h.negotiated[featureKey(f)] {
			return false
		}
	}
	return true
}

func (h *Handshaker) allMandatoryNegotiated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allMandatoryNegotiatedLocked()
}

