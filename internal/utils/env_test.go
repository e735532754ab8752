package utils

import (
	"testing"
	"time"
)

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"0", true, false},
		{"off", true, false},
		{"garbage", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.val)
			if got := GetEnvAsBool("TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("GetEnvAsBool(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := GetEnvAsInt("TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	t.Setenv("TEST_INT", "not-a-number")
	if got := GetEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestGetEnvAsMillis(t *testing.T) {
	t.Setenv("TEST_MS", "1500")
	if got := GetEnvAsMillis("TEST_MS", time.Second); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}

	t.Setenv("TEST_MS", "")
	if got := GetEnvAsMillis("TEST_MS", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("expected default 5m, got %v", got)
	}
}

func TestGetEnvAsString(t *testing.T) {
	t.Setenv("TEST_STR", "  postgres ")
	if got := GetEnvAsString("TEST_STR", "memory"); got != "postgres" {
		t.Errorf("expected trimmed value, got %q", got)
	}

	t.Setenv("TEST_STR", "")
	if got := GetEnvAsString("TEST_STR", "memory"); got != "memory" {
		t.Errorf("expected default, got %q", got)
	}
}
