// Package query builds injection-safe fragments for the indexer's SQL surface.
package query

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	identifierQuote = `"`
	stringQuote     = `'`
	maxNamespaceLen = 14
)

var (
	// ErrInvalidHex32 indicates a value that is not 0x followed by 64 hex characters.
	ErrInvalidHex32 = errors.New("query: invalid 32-byte hex value")
	// ErrInvalidNamespace indicates an empty or oversized table namespace.
	ErrInvalidNamespace = errors.New("query: invalid namespace")

	hex32Pattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

// QuoteIdentifier wraps name in identifier quotes, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return identifierQuote + strings.ReplaceAll(name, identifierQuote, identifierQuote+identifierQuote) + identifierQuote
}

// QuoteString wraps value in string quotes, doubling embedded quotes.
func QuoteString(value string) string {
	return stringQuote + strings.ReplaceAll(value, stringQuote, stringQuote+stringQuote) + stringQuote
}

// QuoteNumber truncates toward zero and emits an integer literal.
func QuoteNumber(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "0"
	}
	return strconv.FormatInt(int64(math.Trunc(value)), 10)
}

// QuoteInt emits an integer literal.
func QuoteInt(value int64) string {
	return strconv.FormatInt(value, 10)
}

// QuoteBool emits TRUE or FALSE.
func QuoteBool(value bool) string {
	if value {
		return "TRUE"
	}
	return "FALSE"
}

// QuoteHex32 lower-cases value and emits it as a string literal.
// Values that are not 0x-prefixed 32-byte hex strings are rejected before they reach query text.
func QuoteHex32(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if !hex32Pattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHex32, value)
	}
	return QuoteString(normalized), nil
}

// Table returns the quoted, namespaced table identifier <namespace>__<name>.
func Table(namespace, name string) (string, error) {
	trimmed := strings.TrimSpace(namespace)
	if trimmed == "" || len(trimmed) > maxNamespaceLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return QuoteIdentifier(trimmed + "__" + name), nil
}

// Columns renders a comma separated list of quoted identifiers, optionally qualified by alias.
func Columns(alias string, names []string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		if alias == "" {
			quoted = append(quoted, QuoteIdentifier(name))
			continue
		}
		quoted = append(quoted, alias+"."+QuoteIdentifier(name))
	}
	return strings.Join(quoted, ", ")
}
