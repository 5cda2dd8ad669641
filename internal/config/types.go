package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration read from text. Besides Go duration strings
// ("90s", "2m") it accepts a bare integer as seconds, which is how most
// people write timeouts in environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return fmt.Errorf("duration cannot be negative: %s", s)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds a credential such as a provider API key. It prints and
// serializes as "[REDACTED]"; Value returns the raw string.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the raw secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

// OrEnv returns s, or the trimmed value of the environment variable name
// when s is empty.
func (s Secret) OrEnv(name string) Secret {
	if s.IsSet() || name == "" {
		return s
	}
	return Secret(strings.TrimSpace(os.Getenv(name)))
}

// MarshalText implements encoding.TextMarshaler. JSON and YAML encoders
// both go through it, so a dumped config never carries raw keys.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte(redacted), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Surrounding whitespace
// from keys pasted out of files is dropped, and a redacted placeholder from
// a dumped config is rejected.
func (s *Secret) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == redacted {
		return fmt.Errorf("secret value is redacted")
	}
	*s = Secret(raw)
	return nil
}
