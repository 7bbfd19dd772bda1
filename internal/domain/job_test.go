package domain_test

import (
	"testing"

	"github.com/thusser/pybs/internal/domain"
)

// spec.md §8 / P4: affinity membership is exact, not substring — "n1" must
// not match a list containing "n10".
func TestMatchesAffinity(t *testing.T) {
	cases := []struct {
		name  string
		nodes []string
		host  string
		want  bool
	}{
		{"no restriction matches any host", nil, "n1", true},
		{"empty restriction matches any host", []string{}, "n1", true},
		{"exact single match", []string{"n1"}, "n1", true},
		{"exact miss", []string{"n1"}, "n2", false},
		{"n1 does not match n10 by substring", []string{"n10"}, "n1", false},
		{"n10 does not match n1 by substring", []string{"n1"}, "n10", false},
		{"matches first of several", []string{"n1", "n2", "n3"}, "n1", true},
		{"matches last of several", []string{"n1", "n2", "n3"}, "n3", true},
		{"misses among several", []string{"n1", "n2", "n3"}, "n4", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.MatchesAffinity(tc.nodes, tc.host)
			if got != tc.want {
				t.Fatalf("MatchesAffinity(%v, %q) = %v, want %v", tc.nodes, tc.host, got, tc.want)
			}
		})
	}
}
