package realtime

import "testing"

func TestSubjectToken(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"doc1", "doc1"},
		{"a.b.c", "a_b_c"},
		{"has space", "has_space"},
		{"wild*card", "wild_card"},
		{"tail>", "tail_"},
		{"tab\there", "tab_here"},
	}
	for _, tc := range cases {
		if got := subjectToken(tc.id); got != tc.want {
			t.Errorf("subjectToken(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
