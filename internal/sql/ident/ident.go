// Package ident implements dialect-aware identifier and literal quoting
// and bracket/quote normalization. It deliberately does not attempt full
// SQL parsing: only identifier-level token translation is in scope.
package ident

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/sql/dialect"
)

// MalformedExpression is returned by NormalizeExpr when quotes in the input
// expression are unbalanced.
var MalformedExpression = errors.New("malformed expression: unbalanced quotes")

// quoteChar returns the opening/closing quote characters used by a dialect
// to delimit identifiers.
func quoteChar(d dialect.Kind) (open, close byte) {
	switch d {
	case dialect.MySQL:
		return '`', '`'
	case dialect.MSSQL:
		return '[', ']'
	default: // embedded-columnar, postgres, sqlite
		return '"', '"'
	}
}

// QuoteIdent quotes a single identifier for the given dialect, doubling any
// embedded quote characters.
func QuoteIdent(d dialect.Kind, name string) string {
	open, closeCh := quoteChar(d)
	escaped := name
	if closeCh == '"' || closeCh == '`' {
		escaped = strings.ReplaceAll(name, string(closeCh), string(closeCh)+string(closeCh))
	} else {
		escaped = strings.ReplaceAll(name, "]", "]]")
	}
	return string(open) + escaped + string(closeCh)
}

// QuoteSource quotes a dotted source name (schema.table) one segment at a
// time, leaving already-quoted segments untouched.
func QuoteSource(d dialect.Kind, dotted string) string {
	parts := splitDotted(dotted)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if isAlreadyQuoted(p) {
			quoted[i] = p
			continue
		}
		quoted[i] = QuoteIdent(d, p)
	}
	return strings.Join(quoted, ".")
}

// splitDotted splits a dotted identifier on unquoted dots.
func splitDotted(s string) []string {
	var parts []string
	var cur strings.Builder
	var inQuote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '`' || c == '[':
			inQuote = closingFor(c)
			cur.WriteByte(c)
		case c == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

func closingFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return open
}

func isAlreadyQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '"' && last == '"') ||
		(first == '`' && last == '`') ||
		(first == '[' && last == ']')
}

// QuoteLiteral quotes a string value as a single-quoted SQL literal,
// doubling embedded single quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// bracketed, backtick, and double-quoted identifier tokens, used to find
// identifier references inside an arbitrary expression string so they can
// be rewritten to a different dialect's quoting convention.
var (
	reBracket    = regexp.MustCompile(`\[([^\]]+)\]`)
	reBacktick   = regexp.MustCompile("`([^`]+)`")
	reDoubleQuote = regexp.MustCompile(`"([^"]+)"`)
	reSingleQuoteLit = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// NormalizeExpr rewrites bracket/backtick/double-quote identifier tokens in
// expr to the target dialect's quoting convention, leaving single-quoted
// string literals untouched. When numericify is set, every identifier
// reference found this way is additionally wrapped in a dialect-appropriate
// numeric coercion (see Numericify).
//
// NormalizeExpr is idempotent: applying it twice yields the same result as
// applying it once, since after the first pass all identifiers already use
// the target dialect's own quote character and no other dialect's
// quote-scanning regex will match them (open/close chars don't overlap
// across dialects, and string literals are protected before substitution).
func NormalizeExpr(d dialect.Kind, expr string, numericify bool) (string, error) {
	if err := checkBalanced(expr); err != nil {
		return "", err
	}

	// Protect single-quoted string literals by replacing them with
	// placeholders before doing any identifier rewriting, then restore them
	// verbatim afterward.
	literals := reSingleQuoteLit.FindAllString(expr, -1)
	protected := expr
	for i, lit := range literals {
		protected = strings.Replace(protected, lit, placeholderFor(i), 1)
	}

	rewrite := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(tok string) string {
			inner := tok[1 : len(tok)-1]
			if numericify {
				return Numericify(d, QuoteIdent(d, inner))
			}
			return QuoteIdent(d, inner)
		})
	}

	out := protected
	out = rewrite(reBracket, out)
	out = rewrite(reBacktick, out)
	out = rewrite(reDoubleQuote, out)

	for i, lit := range literals {
		out = strings.Replace(out, placeholderFor(i), lit, 1)
	}

	return out, nil
}

func placeholderFor(i int) string {
	return "\x00LIT" + strconv.Itoa(i) + "\x00"
}

func checkBalanced(expr string) error {
	counts := map[byte]int{'"': 0, '`': 0}
	brackets := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '"':
			counts['"']++
		case '`':
			counts['`']++
		case '[':
			brackets++
		case ']':
			brackets--
			if brackets < 0 {
				return MalformedExpression
			}
		}
	}
	if counts['"']%2 != 0 || counts['`']%2 != 0 || brackets != 0 {
		return MalformedExpression
	}
	return nil
}

// Numericify wraps an already-quoted identifier expression in a
// dialect-specific numeric coercion that tolerates string numerics with
// commas, currency symbols, or trailing units.
func Numericify(d dialect.Kind, quotedIdent string) string {
	switch d {
	case dialect.EmbeddedColumnar:
		return "COALESCE(try_cast(regexp_replace(CAST(" + quotedIdent +
			" AS VARCHAR), '[^0-9\\.-]', '') AS DOUBLE), try_cast(" + quotedIdent +
			" AS DOUBLE), 0.0)"
	case dialect.Postgres:
		return "COALESCE(NULLIF(regexp_replace(" + quotedIdent +
			"::text, '[^0-9\\.\\-]', '', 'g'), '')::double precision, 0.0)"
	case dialect.MySQL:
		return "COALESCE(CAST(NULLIF(REGEXP_REPLACE(CAST(" + quotedIdent +
			" AS CHAR), '[^0-9.\\-]', ''), '') AS DOUBLE), 0.0)"
	case dialect.MSSQL:
		return "COALESCE(TRY_CAST(" + quotedIdent + " AS FLOAT), 0.0)"
	case dialect.SQLite:
		return "COALESCE(CAST(" + quotedIdent + " AS REAL), 0.0)"
	default:
		return quotedIdent
	}
}
