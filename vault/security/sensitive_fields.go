package security

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Mask replaces sensitive values.
const Mask = "****"

var defaultSensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"key",
	"auth",
	"authorization",
	"credential",
	"credentials",
	"dsn",
	"private_key",
	"privatekey",
	"api_key",
	"apikey",
}

// Tokens too generic for word-boundary matching. They must be a whole
// token of the field name.
var shortSensitiveTokens = map[string]bool{
	"key":  true,
	"auth": true,
	"dsn":  true,
}

var tokenSplitRegex = regexp.MustCompile(`[^a-z0-9]+`)

// DefaultSensitiveFields returns a copy of the lowercase field names treated
// as secrets.
func DefaultSensitiveFields() []string {
	return slices.Clone(defaultSensitiveFields)
}

// normalizeFieldName turns camelCase into lowercase snake_case, so
// "primaryDSN" becomes "primary_dsn" and "APIKey" becomes "api_key".
func normalizeFieldName(fieldName string) string {
	var b strings.Builder

	runes := []rune(fieldName)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]

			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}

			if unicode.IsLower(prev) || unicode.IsDigit(prev) ||
				(unicode.IsUpper(prev) && next != 0 && unicode.IsLower(next)) {
				b.WriteByte('_')
			}
		}

		b.WriteRune(r)
	}

	return strings.ToLower(b.String())
}

// IsSensitiveField reports whether fieldName names a secret. Matching is
// case-insensitive and understands camelCase, snake_case and kebab-case.
func IsSensitiveField(fieldName string) bool {
	normalized := normalizeFieldName(fieldName)
	tokens := tokenSplitRegex.Split(normalized, -1)

	for _, sensitive := range defaultSensitiveFields {
		if normalized == sensitive {
			return true
		}

		if shortSensitiveTokens[sensitive] {
			if slices.Contains(tokens, sensitive) {
				return true
			}

			continue
		}

		if matchesWordBoundary(normalized, sensitive) {
			return true
		}
	}

	return false
}

// matchesWordBoundary reports whether pattern occurs in field delimited by
// the string edges or non-alphanumeric bytes.
func matchesWordBoundary(field, pattern string) bool {
	offset := 0

	for {
		idx := strings.Index(field[offset:], pattern)
		if idx == -1 {
			return false
		}

		start := offset + idx
		end := start + len(pattern)

		if (start == 0 || !isAlphanumeric(field[start-1])) && (end == len(field) || !isAlphanumeric(field[end])) {
			return true
		}

		offset = start + 1
	}
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// RedactURL hides the password of a URL with user info, such as an AMQP or
// Postgres connection URL. Other values are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.User == nil {
		return raw
	}

	if _, ok := u.User.Password(); !ok {
		return raw
	}

	return u.Redacted()
}
