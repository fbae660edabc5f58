package xmldoc_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"go.xmppcore.dev/xmpp/xmldoc"
)

func TestReadElement(t *testing.T) {
	const src = `<iq xmlns="jabber:client" id="abc" type="set"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>home</resource></bind></iq>`
	d := xml.NewDecoder(strings.NewReader(src))
	el, err := xmldoc.Read(d)
	if err != nil {
		t.Fatal(err)
	}
	if !el.Is("jabber:client", "iq") {
		t.Fatalf("got %v, want iq", el.Name)
	}
	if id, ok := el.Attribute("id"); !ok || id != "abc" {
		t.Errorf("id = %q, %v", id, ok)
	}
	bind := el.ChildNamed("urn:ietf:params:xml:ns:xmpp-bind", "bind")
	if bind == nil {
		t.Fatal("missing bind child")
	}
	resource := bind.FirstChild()
	if resource == nil || resource.Data != "home" {
		t.Fatalf("resource = %+v", resource)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	el := xmldoc.New("jabber:client", "iq").SetAttribute("id", "1").SetAttribute("type", "get")
	el.AddChild(xmldoc.New("urn:ietf:params:xml:ns:xmpp-bind", "bind"))

	var buf bytes.Buffer
	if err := el.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	d := xml.NewDecoder(&buf)
	got, err := xmldoc.Read(d)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Is("jabber:client", "iq") {
		t.Errorf("got %v", got.Name)
	}
	if v, _ := got.Attribute("id"); v != "1" {
		t.Errorf("id = %q", v)
	}
}
