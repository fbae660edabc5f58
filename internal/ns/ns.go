// Package ns centralizes the XML namespace strings used throughout the
// module so that they are declared exactly once.
package ns

const (
	// Client is the namespace of client-to-server stanzas.
	Client = "jabber:client"

	// Server is the namespace of server-to-server stanzas.
	Server = "jabber:server"

	// Stream is the namespace of the stream:features, stream:error, and
	// related stream-level elements defined by RFC 6120.
	Stream = "http://etherx.jabber.org/streams"

	// Framing is the namespace of the WebSocket-style <open/> and <close/>
	// framing elements defined by RFC 7395.
	Framing = "urn:ietf:params:xml:ns:xmpp-framing"

	// TLS is the namespace of the StartTLS stream feature.
	TLS = "urn:ietf:params:xml:ns:xmpp-tls"

	// SASL is the namespace of the SASL stream feature.
	SASL = "urn:ietf:params:xml:ns:xmpp-sasl"

	// Bind is the namespace of the resource binding stream feature.
	Bind = "urn:ietf:params:xml:ns:xmpp-bind"

	// StreamManagement is the namespace of the informational stream
	// management feature advertisement (XEP-0198).
	StreamManagement = "urn:xmpp:sm:3"

	// Stanzas is the namespace of the defined stanza error conditions
	// (RFC 6120 §8.3.3), carried by the condition and text children of a
	// stanza-level <error/> element. The <error/> element itself takes the
	// enclosing stanza's namespace (e.g. jabber:client), not this one.
	Stanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"
)
