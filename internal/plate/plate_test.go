package plate

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"29a-179.90", "29A17990"},
		{"29A 179 90", "29A17990"},
		{"abc", ""}, // too short after stripping
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.raw); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		plateID string
		want    bool
	}{
		{"29A17990", true},
		{"30G56789", true},
		{"29A12345678", false}, // too many trailing digits for either regex
		{"", false},
		{"ABCDEFGH", false},
	}
	for _, c := range cases {
		if got := Validate(c.plateID); got != c.want {
			t.Errorf("Validate(%q) = %v, want %v", c.plateID, got, c.want)
		}
	}
}

func TestDisplayFormTrimsWhitespaceOnly(t *testing.T) {
	if got := DisplayForm("  29A-179.90  "); got != "29A-179.90" {
		t.Errorf("DisplayForm() = %q, want %q", got, "29A-179.90")
	}
}

func TestPreferredDisplayFormPrefersDashAndDot(t *testing.T) {
	votes := map[string]int{
		"29A17990":   3,
		"29A-179.90": 1,
	}
	if got := PreferredDisplayForm(votes); got != "29A-179.90" {
		t.Errorf("PreferredDisplayForm() = %q, want %q", got, "29A-179.90")
	}
}

func TestPreferredDisplayFormPrefersDashOverDot(t *testing.T) {
	votes := map[string]int{
		"29A.17990": 1,
		"29A-17990": 1,
	}
	if got := PreferredDisplayForm(votes); got != "29A-17990" {
		t.Errorf("PreferredDisplayForm() = %q, want %q", got, "29A-17990")
	}
}

func TestPreferredDisplayFormFallsBackToMostVoted(t *testing.T) {
	votes := map[string]int{
		"29A17990": 5,
		"29a17990": 2,
	}
	if got := PreferredDisplayForm(votes); got != "29A17990" {
		t.Errorf("PreferredDisplayForm() = %q, want %q", got, "29A17990")
	}
}
