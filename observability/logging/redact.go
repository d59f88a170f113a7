package logging

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys naming public ledger data or log plumbing. Everything else passed to
// MaskField is treated as secret.
var publicKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"address":   {},
	"signature": {},
	"blockhash": {},
	"contract":  {},
	"command":   {},
	"slot":      {},
}

// IsPublic reports whether values logged under key are emitted verbatim.
func IsPublic(key string) bool {
	_, ok := publicKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField redacts value unless key is public. Blank values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPublic(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskPath keeps only the file name of a key or keystore path, so logs show
// which file was used without revealing where keys live.
func MaskPath(key, path string) slog.Attr {
	if strings.TrimSpace(path) == "" {
		return slog.String(key, path)
	}
	return slog.String(key, filepath.Join(RedactedValue, filepath.Base(path)))
}
