package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		region string
		want   string
	}{
		{name: "us national", input: "(202) 456-1111", region: "US", want: "+12024561111"},
		{name: "already e164", input: "+31 20 794 0000", region: "US", want: "+31207940000"},
		{name: "empty", input: "   ", region: "US", want: ""},
		{name: "garbage kept", input: "call me", region: "US", want: "call me"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeE164(tc.input, tc.region); got != tc.want {
				t.Errorf("NormalizeE164(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
