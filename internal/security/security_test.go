package security

import (
	"errors"
	"strings"
	"testing"
)

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		secret string
		clean  bool
	}{
		{"pan", "investor ABCDE1234F skipped", "investor ******234F skipped", "ABCDE1234F", false},
		{"token param", "GET /send?token=abcdef123456", "GET /send?token=abcd****3456", "abcdef123456", false},
		{"bot token", "bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0", "", "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0", false},
		{"plain", "statement failed at normalize", "statement failed at normalize", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskSensitive(tt.in)
			if tt.want != "" && got != tt.want {
				t.Errorf("MaskSensitive() = %q, want %q", got, tt.want)
			}
			if ContainsSensitiveData(tt.in) == tt.clean {
				t.Errorf("ContainsSensitiveData(%q) = %v", tt.in, !tt.clean)
			}
			if tt.secret != "" && strings.Contains(got, tt.secret) {
				t.Errorf("masked output leaks %q: %q", tt.secret, got)
			}
		})
	}
}

func TestMaskCredential(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"abc":          "***",
		"abcdef":       "ab****",
		"abcdefghijkl": "abcd****ijkl",
	}
	for in, want := range tests {
		if got := MaskCredential(in); got != want {
			t.Errorf("MaskCredential(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactMap(t *testing.T) {
	in := map[string]interface{}{
		"pan":     "ABCDE1234F",
		"error":   "folio of ABCDE1234F is malformed",
		"count":   3,
		"details": map[string]interface{}{"bot_token": "123456:secret"},
	}
	out := RedactMap(in)

	if out["pan"] != "ABCD**234F" {
		t.Errorf("pan = %v", out["pan"])
	}
	if s, _ := out["error"].(string); strings.Contains(s, "ABCDE1234F") {
		t.Errorf("error = %q", s)
	}
	if out["count"] != 3 {
		t.Errorf("count = %v", out["count"])
	}
	nested, _ := out["details"].(map[string]interface{})
	if nested["bot_token"] == "123456:secret" {
		t.Error("nested token not masked")
	}
	if in["pan"] != "ABCDE1234F" {
		t.Error("input mutated")
	}
}

func TestValidateAMFI(t *testing.T) {
	for _, ok := range []string{"120503", "1"} {
		if err := ValidateAMFI(ok); err != nil {
			t.Errorf("ValidateAMFI(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "12O503", "120503; drop", "12345678901"} {
		var ve *ValidationError
		if err := ValidateAMFI(bad); !errors.As(err, &ve) {
			t.Errorf("ValidateAMFI(%q) = %v, want ValidationError", bad, err)
		}
	}
}

func TestValidateStatementID(t *testing.T) {
	if err := ValidateStatementID("6f1c2e4a-9b7d-4c1e-8a55-0f2d3c4b5a69"); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
	if err := ValidateStatementID("not-a-uuid"); err == nil {
		t.Error("invalid id accepted")
	}
}
