package store

import "testing"

func TestFreshEntryBaseline(t *testing.T) {
	canon := "dv_canon"
	pushed := "dv_pushed"

	cases := []struct {
		name     string
		staged   *string
		prior    *string
		hasPrior bool
		want     *string
	}{
		{
			name:   "first touch records the staged canonical",
			staged: &canon,
			want:   &canon,
		},
		{
			name: "first touch of a never-merged entity records nil",
		},
		{
			name:     "re-edit after commit carries the acknowledged baseline, not the branch's own version",
			staged:   &pushed,
			prior:    &canon,
			hasPrior: true,
			want:     &canon,
		},
		{
			name:     "re-edit of a never-merged entity stays baseline-less",
			staged:   &pushed,
			hasPrior: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := freshEntryBaseline(tc.staged, tc.prior, tc.hasPrior)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("baseline: want %v, got %v", tc.want, got)
			}
			if got != nil && *got != *tc.want {
				t.Fatalf("baseline: want %s, got %s", *tc.want, *got)
			}
		})
	}
}
