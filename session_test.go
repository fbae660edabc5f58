package xmpp_test

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"go.xmppcore.dev/xmpp"
	"go.xmppcore.dev/xmpp/internal/ns"
	"go.xmppcore.dev/xmpp/internal/xmpptest"
	"go.xmppcore.dev/xmpp/jid"
	"go.xmppcore.dev/xmpp/scram"
	"go.xmppcore.dev/xmpp/stanza"
	"go.xmppcore.dev/xmpp/xmldoc"
)

func passwordLookup(password string) scram.CredentialLookup {
	return func(_ string, _ scram.Mechanism, key scram.CredentialKey) (interface{}, bool) {
		if key == scram.CredentialPassword {
			return password, true
		}
		return nil, false
	}
}

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// runFakeServer drives the server side of the net.Pipe by hand, scripting
// exactly the exchange a compliant XMPP server would produce: StartTLS,
// SCRAM-SHA-1, then resource binding, then a responsive close. This
// exercises the Session/Transport wiring end to end (spec scenarios:
// resource binding and graceful close) without a second Session, since this
// module implements only the client role.
func runFakeServer(t *testing.T, conn net.Conn, password string) {
	t.Helper()
	dec := xml.NewDecoder(conn)

	readOpen := func() {
		if _, err := xmldoc.ReadFraming(dec); err != nil {
			t.Errorf("fakeServer: reading open/restart: %v", err)
		}
	}
	writeOpen := func() {
		open := xmldoc.New(ns.Framing, "open")
		open.SetAttribute("from", "example.com").SetAttribute("version", "1.0")
		if err := open.Encode(conn); err != nil {
			t.Errorf("fakeServer: writing open: %v", err)
		}
	}
	writeFeatures := func(child *xmldoc.Element) {
		features := xmldoc.New(ns.Stream, "features")
		features.AddChild(child)
		if err := features.Encode(conn); err != nil {
			t.Errorf("fakeServer: writing features: %v", err)
		}
	}

	// --- StartTLS ---
	readOpen()
	writeOpen()
	writeFeatures(xmldoc.New(ns.TLS, "starttls"))
	if _, err := xmldoc.Read(dec); err != nil { // <starttls/>
		t.Errorf("fakeServer: reading starttls: %v", err)
	}
	if err := xmldoc.New(ns.TLS, "proceed").Encode(conn); err != nil {
		t.Errorf("fakeServer: writing proceed: %v", err)
	}

	// --- SASL (SCRAM-SHA-1) ---
	readOpen() // post-StartTLS restart
	writeOpen()
	mechanisms := xmldoc.New(ns.SASL, "mechanisms")
	mech := xmldoc.New(ns.SASL, "mechanism")
	mech.SetText("SCRAM-SHA-1")
	mechanisms.AddChild(mech)
	writeFeatures(mechanisms)

	srv := scram.NewServer(scram.SHA1, passwordLookup(password))
	authEl, err := xmldoc.Read(dec) // <auth mechanism=.../>
	if err != nil {
		t.Fatalf("fakeServer: reading auth: %v", err)
	}
	clientFirst, _ := base64Decode(authEl.Data)
	if err := srv.AcceptResponse(clientFirst); err != nil {
		t.Fatalf("fakeServer: accepting client-first: %v", err)
	}
	serverFirst, err := srv.Challenge()
	if err != nil {
		t.Fatalf("fakeServer: building server-first: %v", err)
	}
	challenge := xmldoc.New(ns.SASL, "challenge")
	challenge.SetText(base64Encode(serverFirst))
	if err := challenge.Encode(conn); err != nil {
		t.Errorf("fakeServer: writing challenge: %v", err)
	}

	respEl, err := xmldoc.Read(dec) // <response>
	if err != nil {
		t.Fatalf("fakeServer: reading response: %v", err)
	}
	clientFinal, _ := base64Decode(respEl.Data)
	if err := srv.AcceptResponse(clientFinal); err != nil {
		t.Fatalf("fakeServer: accepting client-final: %v", err)
	}
	serverFinal, err := srv.Challenge()
	if err != nil {
		t.Fatalf("fakeServer: building server-final: %v", err)
	}
	success := xmldoc.New(ns.SASL, "success")
	success.SetText(base64Encode(serverFinal))
	if err := success.Encode(conn); err != nil {
		t.Errorf("fakeServer: writing success: %v", err)
	}

	// --- Resource binding ---
	readOpen() // post-SASL restart
	writeOpen()
	writeFeatures(xmldoc.New(ns.Bind, "bind"))

	bindEl, err := xmldoc.Read(dec) // <iq type=set><bind/></iq>
	if err != nil {
		t.Fatalf("fakeServer: reading bind iq: %v", err)
	}
	id, _ := bindEl.Attribute("id")
	result := xmldoc.New(ns.Client, "iq")
	result.SetAttribute("id", id).SetAttribute("type", "result")
	bind := xmldoc.New(ns.Bind, "bind")
	jidEl := xmldoc.New(ns.Bind, "jid")
	jidEl.SetText("juliet@example.com/ios")
	bind.AddChild(jidEl)
	result.AddChild(bind)
	if err := result.Encode(conn); err != nil {
		t.Errorf("fakeServer: writing bind result: %v", err)
	}

	// --- Graceful close, once the session asks to disconnect ---
	if _, err := xmldoc.ReadFraming(dec); err == nil {
		xmldoc.New(ns.Framing, "close").Encode(conn)
	}
}

// runFakeServerBindError is runFakeServer's resource-binding step replaced
// with a type=error response carrying a real RFC 6120 §8.3 stanza error, to
// exercise onBindReply's error branch end to end.
func runFakeServerBindError(t *testing.T, conn net.Conn, password string) {
	t.Helper()
	dec := xml.NewDecoder(conn)

	readOpen := func() {
		if _, err := xmldoc.ReadFraming(dec); err != nil {
			t.Errorf("fakeServer: reading open/restart: %v", err)
		}
	}
	writeOpen := func() {
		open := xmldoc.New(ns.Framing, "open")
		open.SetAttribute("from", "example.com").SetAttribute("version", "1.0")
		if err := open.Encode(conn); err != nil {
			t.Errorf("fakeServer: writing open: %v", err)
		}
	}
	writeFeatures := func(child *xmldoc.Element) {
		features := xmldoc.New(ns.Stream, "features")
		features.AddChild(child)
		if err := features.Encode(conn); err != nil {
			t.Errorf("fakeServer: writing features: %v", err)
		}
	}

	readOpen()
	writeOpen()
	writeFeatures(xmldoc.New(ns.TLS, "starttls"))
	xmldoc.Read(dec) // <starttls/>
	xmldoc.New(ns.TLS, "proceed").Encode(conn)

	readOpen()
	writeOpen()
	mechanisms := xmldoc.New(ns.SASL, "mechanisms")
	mech := xmldoc.New(ns.SASL, "mechanism")
	mech.SetText("SCRAM-SHA-1")
	mechanisms.AddChild(mech)
	writeFeatures(mechanisms)

	srv := scram.NewServer(scram.SHA1, passwordLookup(password))
	authEl, _ := xmldoc.Read(dec)
	clientFirst, _ := base64Decode(authEl.Data)
	if err := srv.AcceptResponse(clientFirst); err != nil {
		t.Fatalf("fakeServer: accepting client-first: %v", err)
	}
	serverFirst, _ := srv.Challenge()
	challenge := xmldoc.New(ns.SASL, "challenge")
	challenge.SetText(base64Encode(serverFirst))
	challenge.Encode(conn)

	respEl, _ := xmldoc.Read(dec)
	clientFinal, _ := base64Decode(respEl.Data)
	if err := srv.AcceptResponse(clientFinal); err != nil {
		t.Fatalf("fakeServer: accepting client-final: %v", err)
	}
	serverFinal, _ := srv.Challenge()
	success := xmldoc.New(ns.SASL, "success")
	success.SetText(base64Encode(serverFinal))
	success.Encode(conn)

	readOpen()
	writeOpen()
	writeFeatures(xmldoc.New(ns.Bind, "bind"))

	bindEl, err := xmldoc.Read(dec) // <iq type=set><bind/></iq>
	if err != nil {
		t.Fatalf("fakeServer: reading bind iq: %v", err)
	}
	id, _ := bindEl.Attribute("id")

	result := xmldoc.New(ns.Client, "iq")
	result.SetAttribute("id", id).SetAttribute("type", "error")
	errEl := xmldoc.New(ns.Client, "error")
	errEl.SetAttribute("type", "cancel")
	errEl.AddChild(xmldoc.New(ns.Stanzas, "conflict"))
	result.AddChild(errEl)
	if err := result.Encode(conn); err != nil {
		t.Errorf("fakeServer: writing bind error: %v", err)
	}

	// The handshaker responds to the bind error with a responsive <close/>
	// and then nothing further; close the connection so the Session's
	// transport observes EOF and terminates.
	xmldoc.ReadFraming(dec) // <close/>
	conn.Close()
}

func TestSessionLoginRecordsParsedBindError(t *testing.T) {
	client, server := xmpptest.Pipe()
	defer client.Close()

	origin := jid.New("juliet", "example.com", "")
	sess := xmpp.New(origin, client, passwordLookup("pencil"))
	client.Bind(sess)

	go runFakeServerBindError(t, server.Conn(), "pencil")

	events, cancel := sess.Events()
	defer cancel()

	ctx, loginCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer loginCancel()
	err := sess.Login(ctx)
	if err == nil {
		t.Fatal("Login succeeded, want the bind error surfaced")
	}
	se, ok := err.(stanza.StanzaError)
	if !ok {
		t.Fatalf("Login error = %#v (%T), want stanza.StanzaError", err, err)
	}
	if se.Condition != stanza.Conflict {
		t.Errorf("Condition = %q, want conflict", se.Condition)
	}
	if se.Type != stanza.ErrorTypeCancel {
		t.Errorf("Type = %q, want cancel", se.Type)
	}

	// StartTLS and SASL complete before binding fails, so feature-negotiated
	// events precede the exception-caught one.
	deadline := time.After(time.Second)
	for caught := false; !caught; {
		select {
		case ev := <-events:
			caught = ev.Kind == xmpp.ExceptionCaught
		case <-deadline:
			t.Fatal("timed out waiting for the exception-caught event")
		}
	}
}

func TestSessionLoginReachesOnlineAndClosesGracefully(t *testing.T) {
	client, server := xmpptest.Pipe()
	defer client.Close()

	origin := jid.New("juliet", "example.com", "")
	sess := xmpp.New(origin, client, passwordLookup("pencil"))
	client.Bind(sess)

	go runFakeServer(t, server.Conn(), "pencil")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Login(ctx); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.State() != xmpp.Online {
		t.Fatalf("session state = %v, want ONLINE", sess.State())
	}
	if got, want := sess.JID().String(), "juliet@example.com/ios"; got != want {
		t.Errorf("negotiated JID = %q, want %q", got, want)
	}

	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disconnectCancel()
	if err := sess.Disconnect(disconnectCtx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if sess.State() != xmpp.Disconnected {
		t.Fatalf("session state after Disconnect = %v, want DISCONNECTED", sess.State())
	}
}
