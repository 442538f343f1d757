package security

import "testing"

func TestSanitize_StripsMarkup(t *testing.T) {
	s := NewSanitizer()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"script removed", `before<script>alert("x")</script>after`, "beforeafter"},
		{"tags stripped", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"comparison survives", "a < b", "a < b"},
		{"empty stays empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Sanitize(tc.input); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestSanitizeHTML_KeepsBasicFormatting(t *testing.T) {
	s := NewSanitizer()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"allowed tags survive", "<p>hi <strong>there</strong></p>", "<p>hi <strong>there</strong></p>"},
		{"script removed", "<p>ok</p><script>bad()</script>", "<p>ok</p>"},
		{"iframe removed", `<iframe src="evil"></iframe>text`, "text"},
		{"event handler dropped", `<p onclick="bad()">x</p>`, "<p>x</p>"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.SanitizeHTML(tc.input); got != tc.want {
				t.Errorf("SanitizeHTML(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	s := NewSanitizer()

	valid := []string{"ada", "grace_hopper", "user.42", "a-b-c"}
	for _, name := range valid {
		if !s.ValidateUsername(name) {
			t.Errorf("ValidateUsername(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "ab", "has space", "<script>x</script>", "semi;colon"}
	for _, name := range invalid {
		if s.ValidateUsername(name) {
			t.Errorf("ValidateUsername(%q) = true, want false", name)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	s := NewSanitizer()

	if !s.ValidateEmail("ada@example.com") {
		t.Error("ValidateEmail rejected a plain address")
	}
	for _, addr := range []string{"", "no-at-sign", "two@@example.com", "spaces in@example.com", "missing@tld"} {
		if s.ValidateEmail(addr) {
			t.Errorf("ValidateEmail(%q) = true, want false", addr)
		}
	}
}
