package stanza

import (
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// ErrorType is the stanza error's "type" attribute (RFC 6120 §8.3.2),
// distinct from the Kind-specific Type above.
type ErrorType string

// The five stanza error types.
const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeCancel   ErrorType = "cancel"
	ErrorTypeContinue ErrorType = "continue"
	ErrorTypeModify   ErrorType = "modify"
	ErrorTypeWait     ErrorType = "wait"
)

// Condition is a stanza-error condition drawn from the closed set defined by
// RFC 6120 §8.3.3, carried by a child of the <error/> element in the
// urn:ietf:params:xml:ns:xmpp-stanzas namespace.
type Condition string

// The defined stanza error conditions.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// StanzaError is a stanza-level <error/> (RFC 6120 §8.3), the payload of any
// stanza whose type attribute is "error". Named StanzaError rather than
// Error because this package's Type enum already uses the identifier Error
// for the "type=error" stanza-type constant. Unlike a stream.Error, its
// <error/> element is a child of the enclosing stanza and so takes the
// stanza's own namespace (ns.Client or ns.Server); only the condition and
// optional text children live in ns.Stanzas.
type StanzaError struct {
	Type      ErrorType
	Condition Condition
	Text      string
}

// Error satisfies the builtin error interface.
func (e StanzaError) Error() string {
	if e.Text != "" {
		return string(e.Condition) + ": " + e.Text
	}
	return string(e.Condition)
}

// Element renders the stanza error as an <error/> DOM element in the given
// namespace, which should match the enclosing stanza's.
func (e StanzaError) Element(space string) *xmldoc.Element {
	el := xmldoc.New(space, "error")
	if e.Type != "" {
		el.SetAttribute("type", string(e.Type))
	}
	el.AddChild(xmldoc.New(ns.Stanzas, string(e.Condition)))
	if e.Text != "" {
		text := xmldoc.New(ns.Stanzas, "text")
		text.SetText(e.Text)
		el.AddChild(text)
	}
	return el
}

// ParseError extracts a StanzaError from an <error/> element found as a
// child of an iq/message/presence stanza. It returns false if el is nil or
// does not look like an error element (its namespace is irrelevant; only
// its local name and condition child matter, since the element is carried
// in its parent stanza's namespace rather than one of its own). The
// condition and text children are recognized by ns.Stanzas regardless of
// what namespace the <error/> element itself was decoded under.
func ParseError(el *xmldoc.Element) (StanzaError, bool) {
	if el == nil || el.Name.Local != "error" {
		return StanzaError{}, false
	}
	var out StanzaError
	if t, ok := el.Attribute("type"); ok {
		out.Type = ErrorType(t)
	}
	for _, child := range el.Child {
		if child.Name.Space != ns.Stanzas {
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
