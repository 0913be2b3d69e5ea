package core

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	const testKey = "TEST_GET_ENV_OR_DEFAULT"

	tests := []struct {
		name         string
		envValue     string
		setEnv       bool
		defaultValue string
		want         string
	}{
		{"returns env value when set", "custom_value", true, "default", "custom_value"},
		{"returns default when not set", "", false, "default", "default"},
		{"returns default when blank", "   ", true, "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(testKey, tt.envValue)
			} else {
				os.Unsetenv(testKey)
			}
			if got := GetEnvOrDefault(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("GetEnvOrDefault() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	const testKey = "TEST_PARSE_INT_ENV"

	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"parses valid integer", "42", 0, 42},
		{"parses negative integer", "-10", 0, -10},
		{"returns default for invalid", "not_a_number", 99, 99},
		{"returns default when empty", "", 55, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseIntEnv(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("ParseIntEnv() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseBoolEnv(t *testing.T) {
	const testKey = "TEST_PARSE_BOOL_ENV"

	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseBoolEnv(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	const testKey = "TEST_PARSE_DURATION_ENV"

	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"bare integer is seconds", "7", 7 * time.Second},
		{"duration string", "750ms", 750 * time.Millisecond},
		{"hours", "2h", 2 * time.Hour},
		{"negative falls back", "-3s", 5 * time.Second},
		{"garbage falls back", "soon", 5 * time.Second},
		{"empty falls back", "", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseDurationEnv(testKey, 5*time.Second); got != tt.want {
				t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseBytesEnv(t *testing.T) {
	const testKey = "TEST_PARSE_BYTES_ENV"

	t.Setenv(testKey, "300MB")
	if got := ParseBytesEnv(testKey, 1); got != 300*BytesPerMB {
		t.Errorf("ParseBytesEnv(300MB) = %d, want %d", got, 300*BytesPerMB)
	}

	t.Setenv(testKey, "lots")
	if got := ParseBytesEnv(testKey, 1); got != 1 {
		t.Errorf("ParseBytesEnv(lots) = %d, want default 1", got)
	}
}

func TestParseListEnv(t *testing.T) {
	const testKey = "TEST_PARSE_LIST_ENV"
	sep := string(os.PathListSeparator)

	t.Setenv(testKey, strings.Join([]string{"/a", " ", "/b "}, sep))
	want := []string{"/a", "/b"}
	if got := ParseListEnv(testKey); !reflect.DeepEqual(got, want) {
		t.Errorf("ParseListEnv() = %v, want %v", got, want)
	}

	t.Setenv(testKey, "")
	if got := ParseListEnv(testKey); got != nil {
		t.Errorf("ParseListEnv(empty) = %v, want nil", got)
	}
}
