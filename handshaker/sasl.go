package handshaker

import (
	"encoding/base64"

	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/scram"
	"go.xmppcore.dev/xmpp/stream"
	"go.xmppcore.dev/xmpp/xmldoc"
)

// initiateSASL implements §4.6.4: select the first of the pipe's preferred
// mechanisms present in the server's advertised list, start a scram.Client
// for it, and send the initial response.
func (h *Handshaker) initiateSASL(advertised *xmldoc.Element) error {
	var serverMechanisms []string
	for _, child := range advertised.Child {
		if child.Is(ns.SASL, "mechanism") {
			serverMechanisms = append(serverMechanisms, child.Data)
		}
	}

	selected := ""
	for _, want := range h.mechanisms {
		for _, have := range serverMechanisms {
			if want == have {
				selected = want
				break
			}
		}
		if selected != "" {
			break
		}
	}
	if selected == "" {
		h.sendRaw(xmldoc.New(ns.SASL, "abort"))
		return h.sendStreamError(stream.PolicyViolation, "no supported SASL mechanism advertised")
	}

	mechanism, ok := scram.ByName(selected)
	if !ok {
		h.sendRaw(xmldoc.New(ns.SASL, "abort"))
		return h.sendStreamError(stream.PolicyViolation, "unsupported SASL mechanism "+selected)
	}

	client := scram.NewClient(mechanism, h.authnJID.Local(), h.authzJID.Local(), h.lookup)
	h.mu.Lock()
	h.scramClient = client
	h.selectedMechanismName = selected
	h.mu.Unlock()

	auth := xmldoc.New(ns.SASL, "auth")
	auth.SetAttribute("mechanism", selected)

	if client.IsClientFirst() {
		resp, err := client.Respond()
		if err != nil {
			return h.sendStreamError(stream.NotAuthorized, err.Error())
		}
		auth.SetText(encodeSASLPayload(resp))
	}
	h.sendRaw(auth)
	return nil
}

// encodeSASLPayload base64-encodes resp, substituting a single '=' when
// resp is empty per RFC 6120 §6.4.2.
func encodeSASLPayload(resp []byte) string {
	if len(resp) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(resp)
}

func decodeSASLPayload(text string) ([]byte, error) {
	if text == "" || text == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(text)
}

func (h *Handshaker) onSASLReply(el *xmldoc.Element) error {
	h.mu.Lock()
	client := h.scramClient
	h.mu.Unlock()
	if client == nil {
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}

	switch el.Name.Local {
	case "challenge":
		payload, err := decodeSASLPayload(el.Data)
		if err != nil {
			return h.sendStreamError(stream.NotAuthorized, err.Error())
		}
		if err := client.AcceptChallenge(payload); err != nil {
			h.sendRaw(xmldoc.New(ns.SASL, "abort"))
			return h.sendStreamError(stream.NotAuthorized, err.Error())
		}
		if client.IsCompleted() {
			if client.Error() != nil {
				h.sendRaw(xmldoc.New(ns.SASL, "abort"))
				return h.sendStreamError(stream.NotAuthorized, client.Error().Error())
			}
			return nil
		}
		resp, err := client.Respond()
		if err != nil {
			h.sendRaw(xmldoc.New(ns.SASL, "abort"))
			return h.sendStreamError(stream.NotAuthorized, err.Error())
		}
		response := xmldoc.New(ns.SASL, "response")
		response.SetText(encodeSASLPayload(resp))
		h.sendRaw(response)
		return nil
	case "success":
		if el.Data != "" {
			payload, err := decodeSASLPayload(el.Data)
			if err != nil {
				return h.sendStreamError(stream.NotAuthorized, err.Error())
			}
			if err := client.AcceptChallenge(payload); err != nil {
				return h.sendStreamError(stream.NotAuthorized, err.Error())
			}
		}
		if !client.IsCompleted() || client.Error() != nil {
			return h.sendStreamError(stream.NotAuthorized, "SASL completed without a verified server signature")
		}
		h.completeFeature(stream.SASL)
		h.restartStream()
		return nil
	case "failure":
		return h.closeStreamLocked(errHandshakeFailure("client-not-authorized"))
	default:
		return h.sendStreamError(stream.UnsupportedStanzaType, "")
	}
}
