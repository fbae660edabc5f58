package stream

import "go.xmppcore.dev/xmpp/internal/ns"

// Feature is metadata describing one stream feature a server can advertise
// in its <stream:features/> element. Unlike the teacher's StreamFeature,
// which carries List/Parse/Negotiate closures, Feature here is a pure
// description: negotiation behavior lives entirely in the handshaker's
// state machine, which consults these fields to decide ordering and
// mandatoriness rather than dispatching to per-feature code.
type Feature struct {
	// Namespace and Local identify the feature's advertisement element,
	// e.g. (urn:ietf:params:xml:ns:xmpp-tls, starttls).
	Namespace string
	Local     string

	// Mandatory reports whether a compliant client must negotiate this
	// feature before the stream is usable (RFC 6120 §4.3.2).
	Mandatory bool

	// Informational reports whether the feature carries no negotiation of
	// its own and is advertised purely for discovery, such as stream
	// management's resumption hint.
	Informational bool
}

// The fixed, known stream features this module negotiates or advertises.
var (
	StartTLS = Feature{
		Namespace: ns.TLS,
		Local:     "starttls",
		Mandatory: true,
	}
	SASL = Feature{
		Namespace: ns.SASL,
		Local:     "mechanisms",
		Mandatory: true,
	}
	ResourceBinding = Feature{
		Namespace: ns.Bind,
		Local:     "bind",
		Mandatory: true,
	}
	StreamManagement = Feature{
		Namespace:     ns.StreamManagement,
		Local:         "sm",
		Informational: true,
	}
)

// NegotiationOrder is the fixed order in which mandatory features are
// offered and negotiated: transport security first, then authentication,
// then resource binding. The handshaker enforces this order rather than
// letting features advertise their own priority.
var NegotiationOrder = []Feature{StartTLS, SASL, ResourceBinding}
