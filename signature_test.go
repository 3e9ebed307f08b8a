package dkim

import "testing"

func sampleTags(overrides map[string]string) tagList {
	tags := tagList{
		"v":  "1",
		"a":  "rsa-sha256",
		"c":  "relaxed/relaxed",
		"d":  "example.com",
		"s":  "brisbane",
		"h":  "from:to:subject",
		"bh": "2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=",
		"b":  "dzdVyOfAKCdLXdJOc9G2q8LoXSlEniSbav+yuU4zGeeruD00lszZVoG4ZHRNiYzR",
	}
	for k, v := range overrides {
		if v == "" {
			delete(tags, k)
		} else {
			tags[k] = v
		}
	}
	return tags
}

func TestParseSignatureOK(t *testing.T) {
	sig, err := parseSignature(sampleTags(nil))
	if err != nil {
		t.Fatalf("parseSignature: %v", err)
	}
	if sig.Domain != "example.com" || sig.Selector != "brisbane" {
		t.Errorf("got domain %q selector %q", sig.Domain, sig.Selector)
	}
	if sig.HeaderCanon != CanonicalizationRelaxed || sig.BodyCanon != CanonicalizationRelaxed {
		t.Errorf("got canon %s/%s", sig.HeaderCanon, sig.BodyCanon)
	}
	if got := sig.HeaderKeys; len(got) != 3 || got[0] != "from" {
		t.Errorf("got header keys %v", got)
	}
	if sig.Identity != "@example.com" {
		t.Errorf("got identity %q, want default @example.com", sig.Identity)
	}
}

func TestParseSignatureMissingRequiredTag(t *testing.T) {
	for _, tag := range []string{"v", "d", "s", "h", "b", "bh"} {
		tags := sampleTags(map[string]string{tag: ""})
		if _, err := parseSignature(tags); err == nil {
			t.Errorf("parseSignature without %q: expected error", tag)
		}
	}
}

func TestParseSignatureRequiresFrom(t *testing.T) {
	tags := sampleTags(map[string]string{"h": "to:subject"})
	if _, err := parseSignature(tags); err == nil {
		t.Error("parseSignature without From in h=: expected error")
	}
}

func TestParseSignatureIdentityMustMatchDomain(t *testing.T) {
	tags := sampleTags(map[string]string{"i": "joe@other.com"})
	if _, err := parseSignature(tags); err == nil {
		t.Error("parseSignature with mismatched i= domain: expected error")
	}

	tags = sampleTags(map[string]string{"i": "joe@sub.example.com"})
	if _, err := parseSignature(tags); err != nil {
		t.Errorf("parseSignature with subdomain i=: unexpected error: %v", err)
	}
}

func TestParseSignatureExpirationBeforeTimestamp(t *testing.T) {
	tags := sampleTags(map[string]string{"t": "1000", "x": "500"})
	if _, err := parseSignature(tags); err == nil {
		t.Error("parseSignature with x < t: expected error")
	}
}

func TestParseCanonicalizationDefaults(t *testing.T) {
	tests := []struct {
		in         string
		wantHeader Canonicalization
		wantBody   Canonicalization
	}{
		{"", CanonicalizationSimple, CanonicalizationSimple},
		{"relaxed", CanonicalizationRelaxed, CanonicalizationSimple},
		{"relaxed/relaxed", CanonicalizationRelaxed, CanonicalizationRelaxed},
		{"simple/relaxed", CanonicalizationSimple, CanonicalizationRelaxed},
	}
	for _, tc := range tests {
		h, b, err := parseCanonicalization(tc.in)
		if err != nil {
			t.Fatalf("parseCanonicalization(%q): %v", tc.in, err)
		}
		if h != tc.wantHeader || b != tc.wantBody {
			t.Errorf("parseCanonicalization(%q) = %s/%s, want %s/%s", tc.in, h, b, tc.wantHeader, tc.wantBody)
		}
	}
}

func TestRemoveSignatureValue(t *testing.T) {
	raw := "DKIM-Signature: v=1; bh=xyz==; b=abc\r\n def==;\r\n"
	got := removeSignatureValue(raw)
	want := "DKIM-Signature: v=1; bh=xyz==; b=;\r\n"
	if got != want {
		t.Errorf("removeSignatureValue = %q, want %q", got, want)
	}
}

func TestRemoveSignatureValueDoesNotMatchBH(t *testing.T) {
	raw := "DKIM-Signature: v=1; bh=xyz==; b=abc==\r\n"
	got := removeSignatureValue(raw)
	want := "DKIM-Signature: v=1; bh=xyz==; b=\r\n"
	if got != want {
		t.Errorf("removeSignatureValue mistakenly touched bh= or the trailing CRLF: got %q, want %q", got, want)
	}
}
