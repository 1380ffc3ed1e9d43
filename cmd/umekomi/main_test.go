package main

import "testing"

func TestParseTokens(t *testing.T) {
	tokens, err := parseTokens("101, 2023,102")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 3 || tokens[0] != 101 || tokens[1] != 2023 || tokens[2] != 102 {
		t.Errorf("parseTokens = %v", tokens)
	}
}

func TestParseTokens_Invalid(t *testing.T) {
	for _, s := range []string{"", "  ", "a,b", "1,-2"} {
		if _, err := parseTokens(s); err == nil {
			t.Errorf("parseTokens(%q) should fail", s)
		}
	}
}
