package handshaker

import (
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/stream"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// initiateStartTLS implements §4.6.3: send <starttls/> and wait for
// <proceed/> or <failure/>.
func (h *Handshaker) initiateStartTLS() error {
	h.sendRaw(xmldoc.New(ns.TLS, "starttls"))
	return nil
}

func (h *Handshaker) onStartTLSReply(el *xmldoc.Element) error {
	switch el.Name.Local {
	case "proceed":
		ch := h.host.DeployTLS()
		go func() {
			err := <-ch
			if err != nil {
				h.recordHandshakeError(err)
				_ = h.closeStreamLocked(err)
				return
			}
			h.completeFeature(stream.StartTLS)
			h.restartStream()
		}()
		return nil
	case "failure":
		return h.closeStreamLocked(errHandshakeFailure("starttls negotiation failed"))
	default:
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}
}

// restartStream re-sends the stream opener after a feature that changes
// the underlying transport (StartTLS, or a successful SASL bind) so the
// server re-advertises <features/> on the freshly secured or authenticated
// stream.
func (h *Handshaker) restartStream() {
	h.mu.Lock()
	h.negotiatingFeature = nil
	h.mu.Unlock()
	open := xmldoc.New(ns.Framing, "open")
	open.SetAttribute("to", h.host.Domain())
	open.SetAttribute("version", "1.0")
	h.sendRaw(open)
}

type errHandshakeFailure string

func (e errHandshakeFailure) Error() string { return string(e) }
