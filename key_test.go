package dkim

import "testing"

// testPublicKeyB64 is the SubjectPublicKeyInfo-encoded RSA public key from RFC 6376's own
// example record (test._domainkey.football.example.com).
const testPublicKeyB64 = "MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDkHlOQoBTzWRiGs5V6NpP3idY6Wk08a5qhdR6wy5bdOKb2jLQiY/J16JYi0Qvx/byYzCNb3W91y3FutACDfzwQ/BC/e/8uBsCR+yz1Lxj+PL6lHvqMKrM3rG4hstT5QjvHO9PzoxZyVYLzBfO2EeC3Ip3G+2kryOTIKT+l/K4w3QIDAQAB"

func sampleKeyTags(overrides map[string]string) tagList {
	tags := tagList{
		"v": "DKIM1",
		"k": "rsa",
		"p": testPublicKeyB64,
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

func TestParseKeyEmptyTagListIsError(t *testing.T) {
	if _, err := parseKey(tagList{}); err == nil {
		t.Error("parseKey(empty): expected error")
	}
}

func TestParseKeyOK(t *testing.T) {
	k, err := parseKey(sampleKeyTags(nil))
	if err != nil {
		t.Fatalf("parseKey: %v", err)
	}
	if k.Revoked {
		t.Error("got Revoked, want not revoked")
	}
	if k.PublicKey == nil {
		t.Fatal("got nil PublicKey")
	}
	if !k.Hashes[HashSHA1] || !k.Hashes[HashSHA256] {
		t.Errorf("default h= should allow sha1 and sha256, got %v", k.Hashes)
	}
	if !k.allowsEmail() {
		t.Error("default s= should allow email service")
	}
}

func TestParseKeyRevokedOnEmptyP(t *testing.T) {
	tags := sampleKeyTags(nil)
	tags["p"] = "  "
	k, err := parseKey(tags)
	if err != nil {
		t.Fatalf("parseKey with empty p=: %v", err)
	}
	if !k.Revoked {
		t.Error("empty p= should mark the key revoked")
	}
	if k.PublicKey != nil {
		t.Error("revoked key should have no PublicKey")
	}
}

func TestParseKeyMissingP(t *testing.T) {
	tags := sampleKeyTags(nil)
	delete(tags, "p")
	if _, err := parseKey(tags); err == nil {
		t.Error("parseKey without p=: expected error")
	}
}

func TestParseKeyUnsupportedVersion(t *testing.T) {
	tags := sampleKeyTags(map[string]string{"v": "DKIM2"})
	if _, err := parseKey(tags); err == nil {
		t.Error("parseKey with v=DKIM2: expected error")
	}
}

func TestParseKeyUnsupportedAlgorithm(t *testing.T) {
	tags := sampleKeyTags(map[string]string{"k": "ed25519"})
	if _, err := parseKey(tags); err == nil {
		t.Error("parseKey with k=ed25519: expected error")
	}
}

func TestParseKeyHashRestriction(t *testing.T) {
	tags := sampleKeyTags(map[string]string{"h": "sha256"})
	k, err := parseKey(tags)
	if err != nil {
		t.Fatalf("parseKey: %v", err)
	}
	if k.allowsHash(HashSHA1) {
		t.Error("h=sha256 should not allow sha1")
	}
	if !k.allowsHash(HashSHA256) {
		t.Error("h=sha256 should allow sha256")
	}
}

func TestParseKeyServiceRestriction(t *testing.T) {
	tags := sampleKeyTags(map[string]string{"s": "foo"})
	if _, err := parseKey(tags); err == nil {
		t.Error("s= without email or *: expected error")
	}

	tags = sampleKeyTags(map[string]string{"s": "foo:email"})
	k, err := parseKey(tags)
	if err != nil {
		t.Fatalf("parseKey: %v", err)
	}
	if !k.allowsEmail() {
		t.Error("s=foo:email should allow email")
	}
}

func TestParseKeyFlags(t *testing.T) {
	tags := sampleKeyTags(map[string]string{"t": "y:s"})
	k, err := parseKey(tags)
	if err != nil {
		t.Fatalf("parseKey: %v", err)
	}
	if !k.testing() || !k.strict() {
		t.Errorf("got testing=%v strict=%v, want both true", k.testing(), k.strict())
	}
}

func TestParseKeyRecordsJoinsMultipleStrings(t *testing.T) {
	txt := []string{"v=DKIM1; k=rsa; p=" + testPublicKeyB64[:40], testPublicKeyB64[40:]}
	k, err := parseKeyRecords(txt)
	if err != nil {
		t.Fatalf("parseKeyRecords: %v", err)
	}
	if k.PublicKey == nil {
		t.Error("got nil PublicKey after joining split TXT strings")
	}
}
