// Package xmpp is the top-level client-session package: it owns a
// pipeline.Pipeline with an installed handshaker.Handshaker and exposes
// the Session lifecycle (Login, Disconnect, Dispose, Send), the inbound
// stanza stream, and the session-level event stream. Grounded on the
// teacher's Session struct and SessionState bitmask (session.go), but
// generalized to an explicit lifecycle enum and to owning a pipeline rather
// than a single negotiation loop over an io.ReadWriter.
package xmpp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"

	"go.xmppcore.dev/xmpp/handshaker"
	"go.xmppcore.dev/xmpp/internal/attr"
	"go.xmppcore.dev/xmpp/jid"
	"go.xmppcore.dev/xmpp/pipeline"
	"go.xmppcore.dev/xmpp/scram"
	"go.xmppcore.dev/xmpp/stanza"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// State is a Session's position in its connection lifecycle.
type State int

// Session states, in protocol order. Dispose is reachable from any state
// and is terminal.
const (
	Disconnected State = iota
	Connecting
	Connected
	Handshaking
	Online
	Disconnecting
	Disposed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Handshaking:
		return "HANDSHAKING"
	case Online:
		return "ONLINE"
	case Disconnecting:
		return "DISCONNECTING"
	case Disposed:
		return "DISPOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind identifies the shape of an Event's Data field.
type EventKind string

// Recognized event kinds. ConnectionTerminated and ExceptionCaught carry an
// error in Data; StartTlsHandshakeCompleted carries nil; FeatureNegotiated
// carries the feature's local name as a string.
const (
	ConnectionTerminated       EventKind = "connection-terminated"
	StartTlsHandshakeCompleted EventKind = "starttls-completed"
	ExceptionCaught            EventKind = "exception-caught"
	FeatureNegotiated          EventKind = "feature-negotiated"
)

// Event is one notification published on a Session's event stream.
type Event struct {
	Kind EventKind
	Data interface{}
}

// Transport is the external collaborator a Session drives to move bytes.
// Concrete transports (TCP, WebSocket) are out of scope for this module; see
// internal/xmpptest for an in-memory implementation used by tests.
//
// A Transport implementation must, for every top-level element it receives
// off the wire, call Session.Deliver, and must itself drain the Session's
// outbound pipeline stream and write each element to the wire.
type Transport interface {
	// Open establishes the underlying connection.
	Open(ctx context.Context) error
	// DeployTLS upgrades the connection in place to TLS.
	DeployTLS(ctx context.Context) error
	// Close tears down the underlying connection.
	Close() error
}

// ErrDisposed is returned by Session methods called after Dispose.
var ErrDisposed = errors.New("xmpp: session is disposed")

// Option configures a Session at construction time, in the teacher's
// functional-options idiom (conn/options.go, StreamConfig).
type Option func(*Session)

// Logger overrides the *log.Logger a Session uses for diagnostic tracing of
// state transitions and stream errors. The default is log.Default().
func Logger(l *log.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Mechanisms overrides the preferred SASL mechanism order. The default is
// handshaker.DefaultMechanisms.
func Mechanisms(names []string) Option {
	return func(s *Session) { s.mechanisms = names }
}

// Resource presets the resource identifier requested during resource
// binding. The default ("") asks the server to assign one.
func Resource(resource string) Option {
	return func(s *Session) { s.resource = resource }
}

// Session is a single XMPP client session: a Transport, a pipeline.Pipeline
// carrying a handshaker.Handshaker, and the lifecycle/event machinery
// wrapping them.
type Session struct {
	log *log.Logger

	transport  Transport
	origin     jid.JID
	authzJID   jid.JID
	lookup     scram.CredentialLookup
	mechanisms []string
	resource   string

	mu    sync.Mutex
	state State

	// features records informational feature data advertised by the peer;
	// negotiated records which feature namespaces completed, mirroring the
	// teacher's Session.features/Session.negotiated maps.
	features   map[string]interface{}
	negotiated map[string]struct{}

	pl         *pipeline.Pipeline
	handshaker *handshaker.Handshaker

	events     *eventStream
	termCh     chan struct{}
	termOnce   sync.Once
	onlineOnce sync.Once
	onlineCh   chan struct{}
}

// New constructs a Session for the given origin JID, authenticating over
// transport with credentials resolved by lookup. The session starts
// Disconnected; call Login to begin.
func New(origin jid.JID, transport Transport, lookup scram.CredentialLookup, opts ...Option) *Session {
	s := &Session{
		log:        log.Default(),
		transport:  transport,
		origin:     origin,
		lookup:     lookup,
		mechanisms: handshaker.DefaultMechanisms,
		features:   make(map[string]interface{}),
		negotiated: make(map[string]struct{}),
		events:     newEventStream(),
		termCh:     make(chan struct{}),
		onlineCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JID returns the negotiated full JID once resource binding has completed,
// or the zero JID before then.
func (s *Session) JID() jid.JID {
	if s.handshaker == nil {
		return jid.JID{}
	}
	return s.handshaker.JID()
}

// Feature returns the informational data recorded for the named feature
// namespace and whether it is present, mirroring the teacher's
// Session.Feature.
func (s *Session) Feature(namespace string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.features[namespace]
	return v, ok
}

// Events subscribes to the session-level event stream.
func (s *Session) Events() (<-chan Event, func()) { return s.events.subscribe() }

// Outbound subscribes to the raw outbound pipeline stream, the channel a
// Transport drains and writes to the wire.
func (s *Session) Outbound() (<-chan interface{}, func()) { return s.pl.Outbound() }

// Inbound subscribes to stanzas the handshaker has admitted post-COMPLETED,
// wrapped as stanza.Stanza.
func (s *Session) Inbound() (<-chan stanza.Stanza, func()) {
	raw, cancel := s.pl.Inbound()
	out := make(chan stanza.Stanza, 32)
	go func() {
		defer close(out)
		for v := range raw {
			el, ok := v.(*xmldoc.Element)
			if !ok {
				continue
			}
			st, err := stanza.Wrap(el)
			if err != nil {
				continue
			}
			select {
			case out <- st:
			default:
			}
		}
	}()
	return out, cancel
}

// Login transitions the session from DISCONNECTED through CONNECTING,
// CONNECTED, and HANDSHAKING to ONLINE: it opens the transport, builds the
// pipeline and handshaker, and waits for the handshaker to reach COMPLETED
// or for ctx to be cancelled.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return fmt.Errorf("xmpp: Login called in state %s", s.state)
	}
	s.state = Connecting
	s.mu.Unlock()

	if err := s.transport.Open(ctx); err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("xmpp: opening transport: %w", err)
	}
	s.setState(Connected)

	hs, err := handshaker.New(s, s.origin, s.authzJID, s.lookup, s.mechanisms, s.resource, false)
	if err != nil {
		s.setState(Disconnected)
		return err
	}
	s.handshaker = hs

	elType := reflect.TypeOf((*xmldoc.Element)(nil))
	s.pl = pipeline.New(elType, elType)
	if err := s.pl.AddLast("handshaker", hs); err != nil {
		s.setState(Disconnected)
		return err
	}
	s.pl.Start()
	s.setState(Handshaking)

	exceptions, cancelExceptions := s.pl.Exceptions()
	go func() {
		defer cancelExceptions()
		for ev := range exceptions {
			s.events.publish(Event{Kind: ExceptionCaught, Data: ev.Cause})
		}
	}()

	select {
	case <-s.onlineCh:
		s.setState(Online)
		return nil
	case <-s.termCh:
		s.setState(Disconnected)
		return s.handshaker.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a stanza to the pipeline's outbound path. Before the
// handshaker reaches COMPLETED, the HandshakerPipe silently drops it per
// the completion gate. A top-level iq/message/presence element with no id
// attribute is stamped with a fresh one before it is written, the way a
// client library stamps outgoing stanzas so replies can be correlated.
func (s *Session) Send(el *xmldoc.Element) error {
	if s.State() == Disposed {
		return ErrDisposed
	}
	if st, err := stanza.Wrap(el); err == nil && st.ID() == "" {
		el.SetAttribute("id", attr.RandomID())
	}
	s.pl.Write(el)
	return nil
}

// Disconnect asks the handshaker to close the stream gracefully and waits
// for STREAM_CLOSED, or for ctx to be cancelled.
func (s *Session) Disconnect(ctx context.Context) error {
	s.setState(Disconnecting)
	done, err := s.handshaker.CloseStream()
	if err != nil {
		return err
	}
	select {
	case <-done:
		s.setState(Disconnected)
		return s.transport.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose releases the session's resources unconditionally. It is safe to
// call more than once.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.state == Disposed {
		s.mu.Unlock()
		return nil
	}
	s.state = Disposed
	s.mu.Unlock()

	if s.pl != nil {
		_ = s.pl.Remove("handshaker")
		s.pl.StopNow()
	}
	var err error
	if s.transport != nil {
		err = s.transport.Close()
	}
	return err
}

// Deliver feeds one top-level inbound element into the pipeline. Transport
// implementations call this for every element received off the wire.
func (s *Session) Deliver(el *xmldoc.Element) {
	if s.pl == nil {
		return
	}
	s.pl.Read(el)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Domain implements handshaker.Host.
func (s *Session) Domain() string { return s.origin.Domain() }

// DeployTLS implements handshaker.Host by delegating to the Transport and
// reporting completion on a single-value channel.
func (s *Session) DeployTLS() <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.transport.DeployTLS(context.Background())
	}()
	return ch
}

// EmitFeatureNegotiated implements handshaker.Host.
func (s *Session) EmitFeatureNegotiated(local string) {
	s.mu.Lock()
	s.negotiated[local] = struct{}{}
	s.mu.Unlock()
	s.log.Printf("xmpp: feature negotiated: %s", local)
	s.events.publish(Event{Kind: FeatureNegotiated, Data: local})
	if local == "starttls" {
		s.events.publish(Event{Kind: StartTlsHandshakeCompleted, Data: nil})
	}
	if local == "completed" {
		s.onlineOnce.Do(func() { close(s.onlineCh) })
	}
}

// EmitHandshakeError implements handshaker.Host.
func (s *Session) EmitHandshakeError(err error) {
	s.log.Printf("xmpp: handshake error: %v", err)
	s.events.publish(Event{Kind: ExceptionCaught, Data: err})
}

// SubscribeConnectionTerminated implements handshaker.Host.
func (s *Session) SubscribeConnectionTerminated() (<-chan struct{}, func()) {
	return s.termCh, func() {}
}

// Terminate signals transport loss to the handshaker and session event
// stream. Transport implementations call this when the underlying
// connection fails or is closed unexpectedly.
func (s *Session) Terminate(cause error) {
	s.termOnce.Do(func() {
		close(s.termCh)
		s.events.publish(Event{Kind: ConnectionTerminated, Data: cause})
	})
}

var _ handshaker.Host = (*Session)(nil)
