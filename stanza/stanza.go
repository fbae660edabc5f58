// Package stanza wraps the three top-level XMPP stanza kinds (iq, message,
// presence) around an xmldoc.Element, the way the teacher's Stanza and IQ
// types wrap encoding/xml struct tags around the same three root elements.
package stanza

import (
	"errors"

	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// Kind identifies which of the three stanza root elements a Stanza wraps.
type Kind string

// The three top-level stanza kinds.
const (
	IQ       Kind = "iq"
	Message  Kind = "message"
	Presence Kind = "presence"
)

// ErrNotStanza is returned when an element's name does not match one of the
// three recognized stanza root elements.
var ErrNotStanza = errors.New("stanza: element is not iq, message, or presence")

// Type is the "type" attribute shared by all three stanza kinds, whose
// recognized values differ by kind (get/set/result/error for iq;
// chat/groupchat/headline/normal/error for message;
// unavailable/subscribe/.../error for presence). It is carried as a plain
// string rather than a closed enum because its legal values depend on Kind.
type Type string

// Common iq and presence error type, and the iq request/response types the
// teacher's iqType enumerates.
const (
	Get    Type = "get"
	Set    Type = "set"
	Result Type = "result"
	Error  Type = "error"
)

// Stanza is a thin accessor layer over one of the three root stanza
// elements as it moves through a Pipeline.
type Stanza struct {
	El *xmldoc.Element
}

// Wrap validates that el is a recognized stanza root element and returns a
// Stanza wrapping it.
func Wrap(el *xmldoc.Element) (Stanza, error) {
	if el == nil {
		return Stanza{}, ErrNotStanza
	}
	switch el.Name.Local {
	case string(IQ), string(Message), string(Presence):
		return Stanza{El: el}, nil
	default:
		return Stanza{}, ErrNotStanza
	}
}

// Kind reports which stanza root element this wraps.
func (s Stanza) Kind() Kind { return Kind(s.El.Name.Local) }

// ID returns the stanza's id attribute, or "" if absent.
func (s Stanza) ID() string {
	v, _ := s.El.Attribute("id")
	return v
}

// From returns the stanza's from attribute, or "" if absent.
func (s Stanza) From() string {
	v, _ := s.El.Attribute("from")
	return v
}

// To returns the stanza's to attribute, or "" if absent.
func (s Stanza) To() string {
	v, _ := s.El.Attribute("to")
	return v
}

// Type returns the stanza's type attribute, or "" if absent.
func (s Stanza) Type() Type {
	v, _ := s.El.Attribute("type")
	return Type(v)
}

// Payload returns the namespace and local name of the stanza's first child
// element, which for an iq carries the request or response body. It
// reports ok=false if the stanza has no child elements.
func (s Stanza) Payload() (space, local string, ok bool) {
	child := s.El.FirstChild()
	if child == nil {
		return "", "", false
	}
	return child.Name.Space, child.Name.Local, true
}

// Result builds the response template for a get/set IQ: it swaps From and
// To, sets type=result, keeps the same id, and carries no payload. The
// caller attaches whatever result payload is appropriate before sending.
func (s Stanza) Result() (Stanza, error) {
	if s.Kind() != IQ {
		return Stanza{}, errors.New("stanza: Result is only valid for iq stanzas")
	}
	el := xmldoc.New(ns.Client, string(IQ))
	if id := s.ID(); id != "" {
		el.SetAttribute("id", id)
	}
	if from := s.From(); from != "" {
		el.SetAttribute("to", from)
	}
	if to := s.To(); to != "" {
		el.SetAttribute("from", to)
	}
	el.SetAttribute("type", string(Result))
	return Stanza{El: el}, nil
}
