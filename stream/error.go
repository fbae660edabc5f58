// Package stream contains XMPP stream-level errors (RFC 6120 §4.9) and
// stream feature metadata, grounded on the teacher's stream package.
package stream

import (
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// Condition is a stream-error condition drawn from the closed set defined
// by RFC 6120 §4.9.3.
type Condition string

// The stream error conditions this module surfaces. The full RFC 6120 list
// is carried even though only a subset is produced by the handshaker, the
// way the teacher's stream package enumerates the complete set rather than
// only what its own negotiator currently emits.
const (
	BadFormat              Condition = "bad-format"
	BadNamespacePrefix     Condition = "bad-namespace-prefix"
	Conflict               Condition = "conflict"
	ConnectionTimeout      Condition = "connection-timeout"
	HostGone               Condition = "host-gone"
	HostUnknown            Condition = "host-unknown"
	ImproperAddressing     Condition = "improper-addressing"
	InternalServerError    Condition = "internal-server-error"
	InvalidFrom            Condition = "invalid-from"
	InvalidNamespace       Condition = "invalid-namespace"
	InvalidXML             Condition = "invalid-xml"
	NotAuthorized          Condition = "not-authorized"
	NotWellFormed          Condition = "not-well-formed"
	PolicyViolation        Condition = "policy-violation"
	RemoteConnectionFailed Condition = "remote-connection-failed"
	Reset                  Condition = "reset"
	ResourceConstraint     Condition = "resource-constraint"
	RestrictedXML          Condition = "restricted-xml"
	SystemShutdown         Condition = "system-shutdown"
	UndefinedCondition     Condition = "undefined-condition"
	UnsupportedEncoding    Condition = "unsupported-encoding"
	UnsupportedFeature     Condition = "unsupported-feature"
	UnsupportedStanzaType  Condition = "unsupported-stanza-type"
	UnsupportedVersion     Condition = "unsupported-version"
)

// Error is an unrecoverable stream-level error, serializable to and from a
// <stream:error> element in the http://etherx.jabber.org/streams namespace.
type Error struct {
	Condition Condition
	Text      string
}

// Error satisfies the builtin error interface.
func (e Error) Error() string {
	if e.Text != "" {
		return string(e.Condition) + ": " + e.Text
	}
	return string(e.Condition)
}

// Element renders the stream error as a <stream:error> DOM element.
func (e Error) Element() *xmldoc.Element {
	el := xmldoc.New(ns.Stream, "error")
	el.AddChild(xmldoc.New(ns.Stream, string(e.Condition)))
	if e.Text != "" {
		text := xmldoc.New(ns.Stream, "text")
		text.SetText(e.Text)
		el.AddChild(text)
	}
	return el
}

// Parse extracts a stream Error from a <stream:error> element. It returns
// false if el does not look like a stream error element.
func Parse(el *xmldoc.Element) (Error, bool) {
	if el == nil || !el.Is(ns.Stream, "error") {
		return Error{}, false
	}
	var out Error
	for _, child := range el.Child {
		if child.Name.Space != ns.Stream {
			continue
		}
		if child.Name.Local == "text" {
			out.Text = child.Data
			continue
		}
		out.Condition = Condition(child.Name.Local)
	}
	if out.Condition == "" {
		out.Condition = UndefinedCondition
	}
	return out, true
}
