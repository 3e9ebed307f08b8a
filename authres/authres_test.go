package authres

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		name       string
		identity   string
		results    []Result
		wantHeader string
	}{
		{
			name:       "no results",
			identity:   "mx.example.org",
			results:    nil,
			wantHeader: "mx.example.org; none",
		},
		{
			name:     "single pass",
			identity: "mx.example.org",
			results: []Result{
				&DKIMResult{Value: ResultPass, Domain: "example.org", Identifier: "@example.org"},
			},
			wantHeader: `mx.example.org; dkim=pass header.d=example.org header.i=@example.org`,
		},
		{
			name:     "fail with reason",
			identity: "mx.example.org",
			results: []Result{
				&DKIMResult{Value: ResultFail, Reason: "body hash mismatch", Domain: "example.org"},
			},
			wantHeader: `mx.example.org; dkim=fail reason="body hash mismatch" header.d=example.org`,
		},
		{
			name:     "mixed methods",
			identity: "mx.example.org",
			results: []Result{
				&DKIMResult{Value: ResultPass, Domain: "example.org"},
				&GenericResult{Method: "spf", Value: ResultPass, Params: map[string]string{"smtp.mailfrom": "joe@example.org"}},
			},
			wantHeader: `mx.example.org; dkim=pass header.d=example.org; spf=pass smtp.mailfrom=joe@example.org`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Format(tc.identity, tc.results)
			if got != tc.wantHeader {
				t.Errorf("Format() = %q, want %q", got, tc.wantHeader)
			}
		})
	}
}
