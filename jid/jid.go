// Package jid implements the XMPP address (Jabber ID) value type.
//
// Unlike the teacher's jid package, no Unicode normalization or stringprep
// (precis, IDNA) is performed here: callers receive back whatever code
// points they supplied. See the teacher's unsafejid.go for the Go idiom this
// package is grounded on.
package jid

import (
	"encoding/xml"
	"errors"
	"strings"
)

// ErrInvalidJID is returned by Parse when the input text cannot be parsed
// into a well-formed JID.
var ErrInvalidJID = errors.New("jid: invalid syntax")

// JID is an immutable XMPP address of the form local@domain/resource.
type JID struct {
	local    string
	domain   string
	resource string
}

// New constructs a JID directly from its three parts. No validation beyond
// storing the parts verbatim is performed; use Parse to validate text input.
func New(local, domain, resource string) JID {
	return JID{local: local, domain: domain, resource: resource}
}

// Parse parses the string form local@domain/resource into a JID.
//
// The first '/' (if any) separates the resource from the bare JID; within
// the bare JID, the first '@' (if any) separates the local part from the
// domain. A leading '@' or a '/' that would leave an empty local or domain
// where one was clearly intended is a syntax failure. Whitespace-only input
// produces the empty JID.
func Parse(s string) (JID, error) {
	if strings.TrimSpace(s) == "" {
		return JID{}, nil
	}

	bare := s
	resource := ""
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		bare = s[:idx]
		resource = s[idx+1:]
		if bare == "" {
			// "/resource" with no bare JID at all.
			return JID{}, ErrInvalidJID
		}
	}

	local := ""
	domain := bare
	if idx := strings.IndexByte(bare, '@'); idx >= 0 {
		local = bare[:idx]
		domain = bare[idx+1:]
		if local == "" {
			// "@domain" — a lone '@' with no local part.
			return JID{}, ErrInvalidJID
		}
		if domain == "" {
			// "local@" with no domain.
			return JID{}, ErrInvalidJID
		}
	}

	return JID{local: local, domain: domain, resource: resource}, nil
}

// Local returns the local part of the JID (e.g. "juliet").
func (j JID) Local() string { return j.local }

// Domain returns the domain part of the JID (e.g. "example.com").
func (j JID) Domain() string { return j.domain }

// Resource returns the resource part of the JID (e.g. "balcony").
func (j JID) Resource() string { return j.resource }

// IsZero reports whether j is the empty JID (all parts empty).
func (j JID) IsZero() bool {
	return j.local == "" && j.domain == "" && j.resource == ""
}

// Bare returns a copy of j with the resource part cleared.
func (j JID) Bare() JID {
	return JID{local: j.local, domain: j.domain}
}

// Equal reports whether j and other have identical local, domain, and
// resource parts, compared octet-for-octet.
func (j JID) Equal(other JID) bool {
	return j.local == other.local && j.domain == other.domain && j.resource == other.resource
}

// String renders the JID in its local@domain/resource text form, omitting
// "local@" when the local part is empty and "/resource" when the resource
// part is empty.
func (j JID) String() string {
	var sb strings.Builder
	if j.local != "" {
		sb.WriteString(j.local)
		sb.WriteByte('@')
	}
	sb.WriteString(j.domain)
	if j.resource != "" {
		sb.WriteByte('/')
		sb.WriteString(j.resource)
	}
	return sb.String()
}

// MarshalXMLAttr satisfies xml.MarshalerAttr so a JID can be used directly as
// a struct field for attributes such as iq/@from and iq/@to.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
