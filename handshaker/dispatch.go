package handshaker

import (
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/pipeline"
	"go.xmppcore.dev/xmpp/stream"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// OnReading implements pipeline.Pipe. Objects that are not xmldoc documents
// always forward unchanged; documents are dispatched on (namespace, local
// name) and the current state per the inbound dispatch table.
func (h *Handshaker) OnReading(pl *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	el, ok := obj.(*xmldoc.Element)
	if !ok {
		out.Emit(obj)
		return nil
	}

	h.mu.Lock()
	state := h.state
	negotiating := h.negotiatingFeature
	h.mu.Unlock()

	switch {
	case el.Is(ns.Framing, "open"):
		return h.onOpen(el, state)
	case el.Is(ns.Framing, "close"):
		return h.onClose(el, state)
	case el.Is(ns.Stream, "error"):
		return h.onStreamError(el)
	case el.Is(ns.Stream, "features"):
		return h.onFeatures(el, state)
	case negotiating != nil && *negotiating == stream.StartTLS && el.Name.Space == ns.TLS:
		return h.onStartTLSReply(el)
	case negotiating != nil && *negotiating == stream.SASL && el.Name.Space == ns.SASL:
		return h.onSASLReply(el)
	case negotiating != nil && *negotiating == stream.ResourceBinding && el.Name.Local == "iq":
		return h.onBindReply(el)
	case state == Completed && isStanza(el):
		out.Emit(el)
		return nil
	default:
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}
}

func isStanza(el *xmldoc.Element) bool {
	switch el.Name.Local {
	case "iq", "message", "presence":
		return el.Name.Space == ns.Client
	default:
		return false
	}
}

func (h *Handshaker) onOpen(el *xmldoc.Element, state State) error {
	switch state {
	case Started, Negotiating:
		version, _ := el.Attribute("version")
		from, _ := el.Attribute("from")
		if version != "1.0" {
			return h.sendStreamError(stream.UnsupportedVersion, "")
		}
		if from != h.host.Domain() {
			return h.sendStreamError(stream.InvalidFrom, "")
		}
		h.mu.Lock()
		h.state = Negotiating
		h.mu.Unlock()
		return nil
	case Completed:
		return h.sendStreamError(stream.Conflict, "")
	default:
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}
}

func (h *Handshaker) onClose(el *xmldoc.Element, state State) error {
	h.mu.Lock()
	switch state {
	case StreamClosing:
		h.state = StreamClosed
		waiters := h.closeWaiters
		h.closeWaiters = nil
		h.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		return nil
	default:
		h.state = StreamClosed
		waiters := h.closeWaiters
		h.closeWaiters = nil
		h.mu.Unlock()
		h.sendRaw(xmldoc.New(ns.Framing, "close"))
		for _, w := range waiters {
			close(w)
		}
		return nil
	}
}

func (h *Handshaker) onStreamError(el *xmldoc.Element) error {
	serverErr, ok := stream.Parse(el)
	if !ok {
		serverErr = stream.Error{Condition: stream.UndefinedCondition}
	}
	h.mu.Lock()
	h.lastServerStreamErr = &serverErr
	h.mu.Unlock()
	return h.closeStreamLocked(serverErr)
}

// onFeatures implements §4.6.2: informational features are recorded first
// regardless of order, then the fixed [STARTTLS, SASL, RESOURCE_BINDING]
// order picks the next feature to negotiate.
func (h *Handshaker) onFeatures(el *xmldoc.Element, state State) error {
	if state != Negotiating {
		return h.sendStreamError(stream.PolicyViolation, "")
	}

	for _, child := range el.Child {
		if f, ok := informationalFeatureFor(child); ok {
			h.mu.Lock()
			h.negotiated[featureKey(f)] = true
			h.mu.Unlock()
			h.host.EmitFeatureNegotiated(f.Local)
		}
	}

	for _, f := range stream.NegotiationOrder {
		f := f
		h.mu.Lock()
		already := h.negotiated[featureKey(f)]
		h.mu.Unlock()
		if already {
			continue
		}
		child := el.ChildNamed(f.Namespace, f.Local)
		if child == nil {
			continue
		}
		h.mu.Lock()
		h.negotiatingFeature = &f
		h.mu.Unlock()
		return h.initiateFeature(f, child)
	}

	if h.allMandatoryNegotiated() {
		h.mu.Lock()
		h.state = Completed
		h.mu.Unlock()
		h.host.EmitFeatureNegotiated("completed")
		return nil
	}
	return h.sendStreamError(stream.UnsupportedFeature, "")
}

func informationalFeatureFor(child *xmldoc.Element) (stream.Feature, bool) {
	for _, f := range []stream.Feature{stream.StreamManagement} {
		if f.Informational && child.Is(f.Namespace, f.Local) {
			return f, true
		}
	}
	return stream.Feature{}, false
}

func (h *Handshaker) initiateFeature(f stream.Feature, advertised *xmldoc.Element) error {
	switch f {
	case stream.StartTLS:
		return h.initiateStartTLS()
	case stream.SASL:
		return h.initiateSASL(advertised)
	case stream.ResourceBinding:
		return h.initiateBind()
	default:
		return h.sendStreamError(stream.UnsupportedFeature, "")
	}
}

// completeFeature marks f negotiated, clears negotiatingFeature, and
// checks the completion gate (§4.6.6).
func (h *Handshaker) completeFeature(f stream.Feature) {
	h.mu.Lock()
	h.negotiated[featureKey(f)] = true
	h.negotiatingFeature = nil
	allDone := h.allMandatoryNegotiatedLocked()
	h.mu.Unlock()
	h.host.EmitFeatureNegotiated(f.Local)
	if allDone {
		h.mu.Lock()
		h.state = Completed
		h.mu.Unlock()
		h.host.EmitFeatureNegotiated("completed")
	}
}
