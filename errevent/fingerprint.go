package errevent

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	fingerprintLen      = 32
	maxNormalizedMsgLen = 200
)

var (
	uuidPattern   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	digitsPattern = regexp.MustCompile(`\d+`)
	singleQuoted  = regexp.MustCompile(`'[^']*'`)
	doubleQuoted  = regexp.MustCompile(`"[^"]*"`)
)

// frameworkFrameMarkers exclude non-application frames from fingerprints so
// the same logical error hashes identically across dependency upgrades.
var frameworkFrameMarkers = []string{ //nolint:gochecknoglobals // fixed marker set
	"/gems/",
	"/ruby/",
	"/vendor/",
}

// fingerprint derives the 32-hex-character identity of an error: the
// exception class, the message with volatile details normalized away, and
// the first application frame of the backtrace, hashed with SHA-256.
func fingerprint(exceptionClass, message string, backtrace []string) string {
	parts := []string{exceptionClass, normalizeMessage(message)}

	if frame, ok := firstAppFrame(backtrace); ok {
		parts = append(parts, frame)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// normalizeMessage strips the dynamic parts of an error message: UUIDs
// first (so their digit groups never partially survive), then digit runs,
// then quoted spans. The result is capped at 200 characters.
func normalizeMessage(message string) string {
	normalized := uuidPattern.ReplaceAllString(message, "UUID")
	normalized = digitsPattern.ReplaceAllString(normalized, "N")
	normalized = singleQuoted.ReplaceAllString(normalized, "'X'")
	normalized = doubleQuoted.ReplaceAllString(normalized, `"X"`)

	if len(normalized) > maxNormalizedMsgLen {
		normalized = normalized[:maxNormalizedMsgLen]
	}
	return normalized
}

func firstAppFrame(backtrace []string) (string, bool) {
	for _, frame := range backtrace {
		if strings.HasPrefix(frame, "<") {
			continue
		}
		if containsAny(frame, frameworkFrameMarkers) {
			continue
		}
		return frame, true
	}
	return "", false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
