package dkim

import (
	"reflect"
	"testing"
)

func TestParseTagList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want tagList
	}{
		{
			name: "simple",
			in:   "v=1; a=rsa-sha256; d=example.com",
			want: tagList{"v": "1", "a": "rsa-sha256", "d": "example.com"},
		},
		{
			name: "trailing semicolon",
			in:   "v=1;",
			want: tagList{"v": "1"},
		},
		{
			name: "folded value keeps internal FWS",
			in:   "bh=abcd\r\n ef==; v=1",
			want: tagList{"bh": "abcd\r\n ef==", "v": "1"},
		},
		{
			name: "leading and trailing FWS around tags",
			in:   " v = 1 ; a = rsa-sha256 ",
			want: tagList{"v": "1", "a": "rsa-sha256"},
		},
		{
			name: "trailing CRLF from a header field's own line terminator",
			in:   "v=1; a=rsa-sha256\r\n",
			want: tagList{"v": "1", "a": "rsa-sha256"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTagList(tc.in)
			if err != nil {
				t.Fatalf("parseTagList(%q) error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseTagList(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseTagListErrors(t *testing.T) {
	tests := []string{
		"v=1; v=2",    // duplicate tag
		"=1",          // missing tag name
		"v 1",         // missing '='
		"v=1; garbage", // trailing garbage after tag-spec without '='
	}
	for _, in := range tests {
		if _, err := parseTagList(in); err == nil {
			t.Errorf("parseTagList(%q): expected error, got none", in)
		}
	}
}
