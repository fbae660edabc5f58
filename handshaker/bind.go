package handshaker

import (
	"go.xmppcore.dev/xmpp/internal/attr"
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/jid"
	"go.xmppcore.dev/xmpp/stanza"
	"go.xmppcore.dev/xmpp/stream"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// initiateBind implements §4.6.5: send a resource-binding IQ carrying the
// preset resource, if any.
func (h *Handshaker) initiateBind() error {
	reqID := attr.UUID4()
	h.mu.Lock()
	h.bindReqID = reqID
	h.mu.Unlock()

	iq := xmldoc.New(ns.Client, "iq")
	iq.SetAttribute("id", reqID).SetAttribute("type", string(stanza.Set))

	bind := xmldoc.New(ns.Bind, "bind")
	if h.resource != "" {
		resource := xmldoc.New(ns.Bind, "resource")
		resource.SetText(h.resource)
		bind.AddChild(resource)
	}
	iq.AddChild(bind)
	h.sendRaw(iq)
	return nil
}

func (h *Handshaker) onBindReply(el *xmldoc.Element) error {
	s, err := stanza.Wrap(el)
	if err != nil || s.Kind() != stanza.IQ {
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}

	h.mu.Lock()
	reqID := h.bindReqID
	h.mu.Unlock()
	if s.ID() != reqID {
		return h.sendStreamError(stream.NotAuthorized, "resource binding response id mismatch")
	}

	switch s.Type() {
	case stanza.Result:
		bind := el.ChildNamed(ns.Bind, "bind")
		if bind == nil {
			return h.sendStreamError(stream.UndefinedCondition, "bind result missing <bind/>")
		}
		jidEl := bind.ChildNamed(ns.Bind, "jid")
		if jidEl == nil {
			return h.sendStreamError(stream.UndefinedCondition, "bind result missing <jid/>")
		}
		full, err := jid.Parse(jidEl.Data)
		if err != nil {
			return h.sendStreamError(stream.UndefinedCondition, err.Error())
		}
		h.mu.Lock()
		h.fullJID = full
		h.mu.Unlock()
		h.completeFeature(stream.ResourceBinding)
		return nil
	case stanza.Error:
		// The <error/> child is part of the iq stanza, not the stream, so
		// it is decoded in ns.Client (or ns.Server), never ns.Stream; only
		// its condition/text children live in the stanza-errors namespace.
		// stream.Parse is for top-level <stream:error/> documents and does
		// not apply here.
		stanzaErr, ok := stanza.ParseError(el.ChildNamed(ns.Client, "error"))
		if !ok {
			stanzaErr = stanza.StanzaError{Condition: stanza.UndefinedCondition}
		}
		return h.closeStreamLocked(stanzaErr)
	default:
		return h.sendStreamError(stream.UndefinedCondition, "")
	}
}
