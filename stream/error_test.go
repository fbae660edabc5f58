package stream_test

import (
	"testing"

	"go.xmppcore.dev/xmpp/stream"
)

func TestErrorElementRoundTrip(t *testing.T) {
	err := stream.Error{Condition: stream.PolicyViolation, Text: "too many stanzas"}
	el := err.Element()

	got, ok := stream.Parse(el)
	if !ok {
		t.Fatal("Parse reported el as not a stream error")
	}
	if got.Condition != err.Condition {
		t.Errorf("Condition = %q, want %q", got.Condition, err.Condition)
	}
	if got.Text != err.Text {
		t.Errorf("Text = %q, want %q", got.Text, err.Text)
	}
}

func TestErrorElementWithoutText(t *testing.T) {
	err := stream.Error{Condition: stream.UndefinedCondition}
	el := err.Element()

	got, ok := stream.Parse(el)
	if !ok {
		t.Fatal("Parse reported el as not a stream error")
	}
	if got.Condition != stream.UndefinedCondition || got.Text != "" {
		t.Errorf("got %+v", got)
	}
}

func TestParseRejectsNonErrorElement(t *testing.T) {
	if _, ok := stream.Parse(nil); ok {
		t.Error("Parse(nil) reported ok")
	}
}

func TestErrorString(t *testing.T) {
	err := stream.Error{Condition: stream.Conflict}
	if err.Error() != "conflict" {
		t.Errorf("Error() = %q, want %q", err.Error(), "conflict")
	}
	err.Text = "resource in use"
	if err.Error() != "conflict: resource in use" {
		t.Errorf("Error() = %q", err.Error())
	}
}
