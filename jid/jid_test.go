package jid_test

import (
	"testing"

	"go.xmppcore.dev/xmpp/jid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		local    string
		domain   string
		resource string
		err      bool
	}{
		{in: "juliet@example.com/balcony", local: "juliet", domain: "example.com", resource: "balcony"},
		{in: "example.com", domain: "example.com"},
		{in: "@example.com", err: true},
		{in: "/", err: true},
		{in: "   ", local: "", domain: "", resource: ""},
		{in: "juliet@example.com", local: "juliet", domain: "example.com"},
		{in: "example.com/balcony", domain: "example.com", resource: "balcony"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := jid.Parse(tc.in)
			if tc.err {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tc.in, err)
			}
			if got.Local() != tc.local || got.Domain() != tc.domain || got.Resource() != tc.resource {
				t.Errorf("Parse(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tc.in, got.Local(), got.Domain(), got.Resource(), tc.local, tc.domain, tc.resource)
			}
		})
	}
}

func TestParseRenderRoundTrip(t *testing.T) {
	texts := []string{
		"juliet@example.com/balcony",
		"example.com",
		"romeo@example.net",
		"example.com/resource",
	}
	for _, text := range texts {
		first, err := jid.Parse(text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		second, err := jid.Parse(first.String())
		if err != nil {
			t.Fatalf("Parse(String(Parse(%q))): %v", text, err)
		}
		if !first.Equal(second) {
			t.Errorf("round trip mismatch for %q: %v != %v", text, first, second)
		}
	}
}

func TestPartsRoundTrip(t *testing.T) {
	tests := []jid.JID{
		jid.New("juliet", "example.com", "balcony"),
		jid.New("", "example.com", ""),
		jid.New("romeo", "example.net", "phone"),
	}
	for _, want := range tests {
		got, err := jid.Parse(want.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", want.String(), err)
		}
		if !got.Equal(want) {
			t.Errorf("Parse(String(%v)) = %v, want %v", want, got, want)
		}
	}
}

func TestBare(t *testing.T) {
	full, err := jid.Parse("juliet@example.com/balcony")
	if err != nil {
		t.Fatal(err)
	}
	bare := full.Bare()
	if bare.Resource() != "" {
		t.Errorf("Bare() resource = %q, want empty", bare.Resource())
	}
	if bare.Local() != "juliet" || bare.Domain() != "example.com" {
		t.Errorf("Bare() = %v, want juliet@example.com", bare)
	}
}

func TestEqual(t *testing.T) {
	a, _ := jid.Parse("juliet@example.com/balcony")
	b, _ := jid.Parse("juliet@example.com/balcony")
	c, _ := jid.Parse("juliet@example.com/phone")
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestIsZero(t *testing.T) {
	var z jid.JID
	if !z.IsZero() {
		t.Error("zero value JID should report IsZero")
	}
	j, _ := jid.Parse("example.com")
	if j.IsZero() {
		t.Error("example.com should not be zero")
	}
}
