package store

import "testing"

func TestContainsPatternEscapesWildcards(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{query: "", want: ""},
		{query: "   ", want: ""},
		{query: " fab ", want: "%fab%"},
		{query: "50%", want: `%50\%%`},
		{query: "a_b", want: `%a\_b%`},
		{query: `c:\tmp`, want: `%c:\\tmp%`},
	}
	for _, tc := range cases {
		if got := containsPattern(tc.query); got != tc.want {
			t.Errorf("containsPattern(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}
