package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential: the sandbox API signing secret, the Notify
// API key, or a value read from the SSM secret store. fmt verbs, slog
// attributes and JSON config dumps all print a placeholder. Unmask is the
// only way to read the raw value.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// LogValue keeps the secret out of text and JSON slog handlers alike.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Empty reports whether no secret was configured or resolved.
func (s SecretString) Empty() bool {
	return s == ""
}

// Unmask returns the raw value, for token signing and Authorization headers.
func (s SecretString) Unmask() string {
	return string(s)
}
