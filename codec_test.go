package dkim

import "testing"

func TestDecodeTagBase64StripsFWS(t *testing.T) {
	got, err := decodeTagBase64("aGVs\r\n bG8=")
	if err != nil {
		t.Fatalf("decodeTagBase64: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("decodeTagBase64 = %q, want %q", got, "hello")
	}
}

func TestQuotedPrintableRoundTrip(t *testing.T) {
	tests := []string{
		"joe@example.com",
		"joe; bob=alice@example.com",
		"",
	}
	for _, in := range tests {
		enc := encodeQP(in)
		dec, err := decodeQP(enc)
		if err != nil {
			t.Fatalf("decodeQP(%q): %v", enc, err)
		}
		if dec != in {
			t.Errorf("round trip %q -> %q -> %q", in, enc, dec)
		}
	}
}

func TestDecodeQPInvalidEscape(t *testing.T) {
	if _, err := decodeQP("=ZZ"); err == nil {
		t.Error("decodeQP(\"=ZZ\"): expected error")
	}
	if _, err := decodeQP("="); err == nil {
		t.Error("decodeQP(\"=\"): expected error")
	}
}

func TestStripWhitespace(t *testing.T) {
	if got := stripWhitespace("a b\tc\r\nd"); got != "abcd" {
		t.Errorf("stripWhitespace = %q, want %q", got, "abcd")
	}
}
