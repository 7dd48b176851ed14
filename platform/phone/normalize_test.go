package phone

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"mobile with area code", "(11) 98765-4321", "+5511987654321", true},
		{"already e164", "+5511987654321", "+5511987654321", true},
		{"landline", "11 3456-7890", "+551134567890", true},
		{"too short", "12345", "", false},
		{"empty", "", "", false},
		{"letters", "not-a-phone", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Validate(tc.input)
			if ok != tc.ok {
				t.Fatalf("Validate(%q) ok = %v, want %v", tc.input, ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("Validate(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeE164ReturnsInputOnFailure(t *testing.T) {
	if got := NormalizeE164("garbage"); got != "garbage" {
		t.Errorf("NormalizeE164(garbage) = %q, want input back", got)
	}
	if got := NormalizeE164("11 98765-4321"); got != "+5511987654321" {
		t.Errorf("NormalizeE164 = %q, want +5511987654321", got)
	}
}
