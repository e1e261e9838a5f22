package randx

import (
	"regexp"
	"strings"
	"testing"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

func TestUserTokenShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		token := UserToken()
		if !IsValidUserToken(token) {
			t.Fatalf("generated token %q is not valid", token)
		}
	}
}

func TestUserTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		token := UserToken()
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token %q after %d draws", token, i)
		}
		seen[token] = struct{}{}
	}
}

func TestIsValidUserToken(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"", false},
		{"user_", false},
		{"guest_0123456789ABCDEFabcdef", false},
		{"user_0123456789ABCDEFabcdef", true},
		{"user_0123456789ABCDEFabcde!", false},
		{"user_0123456789ABCDEFabcdefX", false},
		{"user_0123456789ABCDEFabcde", false},
	}
	for _, tc := range cases {
		if got := IsValidUserToken(tc.token); got != tc.want {
			t.Errorf("IsValidUserToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestDisplayNameIsAdjectiveNoun(t *testing.T) {
	for i := 0; i < 50; i++ {
		name, err := DisplayName()
		if err != nil {
			t.Fatalf("DisplayName: %v", err)
		}
		parts := strings.Split(name, " ")
		if len(parts) != 2 {
			t.Fatalf("name %q is not two words", name)
		}
		if !contains(adjectives, parts[0]) || !contains(nouns, parts[1]) {
			t.Fatalf("name %q is not drawn from the word lists", name)
		}
	}
}

func TestDisplayColorFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		color, err := DisplayColor()
		if err != nil {
			t.Fatalf("DisplayColor: %v", err)
		}
		if !colorPattern.MatchString(color) {
			t.Fatalf("color %q does not match #RRGGBB", color)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
