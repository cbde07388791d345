package jobconsole

import "testing"

func TestEnvelopeEncodeDecode(t *testing.T) {
	e := NewEnvelope("SendEmail", "a@example.com", 3)
	s, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if have, want := s, `{"class":"SendEmail","args":["a@example.com",3]}`; have != want {
		t.Fatalf("Encode = %s, want %s", have, want)
	}
	d, err := DecodeEnvelope(s)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := d.Class, "SendEmail"; have != want {
		t.Fatalf("Class = %q, want %q", have, want)
	}
	if !d.Equal(e) {
		t.Fatalf("expected %v to equal %v", d, e)
	}
}

func TestEnvelopeEncodeNilArgs(t *testing.T) {
	s, err := NewEnvelope("Nightly").Encode()
	if err != nil {
		t.Fatal(err)
	}
	if have, want := s, `{"class":"Nightly","args":[]}`; have != want {
		t.Fatalf("Encode = %s, want %s", have, want)
	}
}

func TestEnvelopeEqual(t *testing.T) {
	a := NewEnvelope("A", map[string]interface{}{"b": 1, "a": 2})
	b := NewEnvelope("A", map[string]interface{}{"a": 2.0, "b": 1.0})
	if !a.Equal(b) {
		t.Fatal("expected envelopes with equal maps to be equal")
	}
	if a.Equal(NewEnvelope("A", 1)) {
		t.Fatal("expected envelopes with different args to differ")
	}
	if a.Equal(NewEnvelope("B", map[string]interface{}{"b": 1, "a": 2})) {
		t.Fatal("expected envelopes with different classes to differ")
	}
}

func TestDecodeEnvelopeInvalid(t *testing.T) {
	if _, err := DecodeEnvelope("{nope"); err == nil {
		t.Fatal("expected an error")
	}
}
