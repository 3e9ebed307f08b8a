package dkim

import (
	"bytes"
	"testing"
)

func TestCanonicalizeHeaderFieldSimple(t *testing.T) {
	raw := "Subject: \thello \r\n  world\r\n"
	got := canonicalizeHeaderField(CanonicalizationSimple, raw)
	if got != raw {
		t.Errorf("simple canon changed the field: got %q, want %q", got, raw)
	}
}

func TestCanonicalizeHeaderFieldRelaxed(t *testing.T) {
	raw := "Subject:   hello \t\r\n   world  \r\n"
	want := "subject:hello world\r\n"
	if got := canonicalizeHeaderField(CanonicalizationRelaxed, raw); got != want {
		t.Errorf("relaxed canon = %q, want %q", got, want)
	}
}

func TestCanonicalizeSignatureFieldDropsTrailingCRLF(t *testing.T) {
	raw := "DKIM-Signature: v=1; b=\r\n"
	got := canonicalizeSignatureField(CanonicalizationSimple, raw)
	if bytes.HasSuffix([]byte(got), []byte(crlf)) {
		t.Errorf("canonicalizeSignatureField left a trailing CRLF: %q", got)
	}
}

func TestBodyCanonicalizerSimple(t *testing.T) {
	tests := []struct {
		name  string
		chunk func(w *bodyCanonicalizer)
		want  string
	}{
		{
			name: "trailing blank lines are elided",
			chunk: func(w *bodyCanonicalizer) {
				w.Write([]byte("a\r\nb\r\n\r\n\r\n"))
			},
			want: "a\r\nb\r\n",
		},
		{
			name: "empty body becomes a single CRLF",
			chunk: func(w *bodyCanonicalizer) {
				w.Write(nil)
			},
			want: crlf,
		},
		{
			name: "unterminated final line still gets one",
			chunk: func(w *bodyCanonicalizer) {
				w.Write([]byte("a\r\nb"))
			},
			want: "a\r\nb\r\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := newBodyCanonicalizer(CanonicalizationSimple, &buf)
			tc.chunk(c)
			if err := c.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if buf.String() != tc.want {
				t.Errorf("got %q, want %q", buf.String(), tc.want)
			}
		})
	}
}

func TestBodyCanonicalizerRelaxed(t *testing.T) {
	var buf bytes.Buffer
	c := newBodyCanonicalizer(CanonicalizationRelaxed, &buf)
	c.Write([]byte("a  b\t\r\n   \r\n\r\n"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if want := "a b\r\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

// TestBodyCanonicalizerChunking checks that splitting the same body into
// arbitrary chunks doesn't change the canonicalized output, per spec's
// chunking-independence invariant.
func TestBodyCanonicalizerChunking(t *testing.T) {
	body := "one\r\ntwo  \r\n\r\n\r\nthree\r\n\r\n"
	whole := canonicalizeBodyWhole(t, body, 0)

	splits := [][]int{{5}, {1, 2, 3}, {10, 1, 1, 1}}
	for _, lens := range splits {
		got := canonicalizeBodyChunked(t, body, lens)
		if got != whole {
			t.Errorf("chunked by %v = %q, want %q", lens, got, whole)
		}
	}
}

func canonicalizeBodyWhole(t *testing.T, body string, _ int) string {
	var buf bytes.Buffer
	c := newBodyCanonicalizer(CanonicalizationRelaxed, &buf)
	c.Write([]byte(body))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.String()
}

func canonicalizeBodyChunked(t *testing.T, body string, lens []int) string {
	var buf bytes.Buffer
	c := newBodyCanonicalizer(CanonicalizationRelaxed, &buf)
	rest := body
	for _, n := range lens {
		if n > len(rest) {
			n = len(rest)
		}
		c.Write([]byte(rest[:n]))
		rest = rest[n:]
	}
	if rest != "" {
		c.Write([]byte(rest))
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.String()
}
