package ingest

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateMacroRe matches the base macro names and an optional offset
// suffix.
var dateMacroRe = regexp.MustCompile(`(?i)^(today|yesterday|startOfDay|startOfWeek|startOfMonth|startOfQuarter|startOfYear|endOfDay|endOfMonth|endOfYear|eom|eoy)([+-]\d+[dhwmy])?$`)

var offsetRe = regexp.MustCompile(`(?i)([+-])(\d+)([dhwmy])`)

// applyOffset shifts dt by an offset suffix like "+3d" or "-2w". Month
// and year units are calendar-approximate (30 and 365 days
// respectively).
func applyOffset(dt time.Time, offset string) time.Time {
	if offset == "" {
		return dt
	}
	m := offsetRe.FindStringSubmatch(offset)
	if m == nil {
		return dt
	}
	num, _ := strconv.Atoi(m[2])
	if m[1] == "-" {
		num = -num
	}
	switch strings.ToLower(m[3]) {
	case "d":
		return dt.AddDate(0, 0, num)
	case "h":
		return dt.Add(time.Duration(num) * time.Hour)
	case "w":
		return dt.AddDate(0, 0, 7*num)
	case "m":
		return dt.AddDate(0, 0, 30*num)
	case "y":
		return dt.AddDate(0, 0, 365*num)
	default:
		return dt
	}
}

// startOfWeek returns midnight on the Monday of dt's week.
func startOfWeek(dt time.Time) time.Time {
	weekday := int(dt.Weekday())
	if weekday == 0 { // Sunday
		weekday = 7
	}
	back := weekday - 1
	d := dt.AddDate(0, 0, -back)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// parseDateMacro resolves a date-kind placeholder value (e.g. "today",
// "startOfMonth-1m") into an absolute UTC time. An unrecognized macro
// falls back to an RFC3339 parse, then to now.
func parseDateMacro(val string) time.Time {
	now := time.Now().UTC()
	v := strings.TrimSpace(val)
	m := dateMacroRe.FindStringSubmatch(v)
	if m == nil {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t
		}
		return now
	}
	base := strings.ToLower(m[1])
	offset := m[2]

	midnight := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}

	var dt time.Time
	switch base {
	case "today":
		dt = midnight(now)
	case "yesterday":
		dt = midnight(now.AddDate(0, 0, -1))
	case "startofday":
		dt = midnight(now)
	case "startofweek":
		dt = startOfWeek(now)
	case "startofmonth":
		dt = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "startofquarter":
		month := ((int(now.Month())-1)/3)*3 + 1
		dt = time.Date(now.Year(), time.Month(month), 1, 0, 0, 0, 0, now.Location())
	case "startofyear":
		dt = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	case "endofday":
		dt = midnight(now)
	case "endofmonth", "eom":
		firstNextMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		dt = midnight(firstNextMonth.AddDate(0, 0, -1))
	case "endofyear", "eoy":
		dt = time.Date(now.Year(), 12, 31, 0, 0, 0, 0, now.Location())
	default:
		dt = now
	}
	return applyOffset(dt, offset)
}

var secretRefRe = regexp.MustCompile(`\{\{\s*secret:([^}]+)\}\}`)

// resolveSecretRefs replaces {{secret:NAME}} tokens with the process
// environment variable NAME.
func resolveSecretRefs(s string) string {
	return secretRefRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := secretRefRe.FindStringSubmatch(m)
		key := strings.TrimSpace(sub[1])
		return os.Getenv(key)
	})
}

// formatTokenReplacements is ordered longest-match-first so "YYYY" is
// substituted before "YY" and "MM" before a bare "M" would be (none is
// supported).
var formatTokenReplacements = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"YYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// normalizeFormat converts friendly date-format tokens into Go's
// reference-time layout. A format already containing a literal "%"
// strftime token is passed through unchanged; formatDate renders such
// formats itself instead of calling time.Format.
func normalizeFormat(format string) string {
	if format == "" {
		return format
	}
	if strings.Contains(format, "%") {
		return format
	}
	out := format
	for _, r := range formatTokenReplacements {
		out = strings.ReplaceAll(out, r.token, r.layout)
	}
	return out
}

// strftimeTokens maps the handful of supported strftime directives onto
// Go layout fragments.
var strftimeTokens = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
}

// formatDate renders dt using format, which may be a friendly-token
// format (YYYY-MM-DD), a raw strftime format (%Y-%m-%d), or empty (then
// defaults to "2006-01-02").
func formatDate(dt time.Time, format string) string {
	if format == "" {
		return dt.Format("2006-01-02")
	}
	if strings.Contains(format, "%") {
		var b strings.Builder
		for i := 0; i < len(format); i++ {
			if format[i] == '%' && i+1 < len(format) {
				if layout, ok := strftimeTokens[format[i+1]]; ok {
					b.WriteString(dt.Format(layout))
					i++
					continue
				}
			}
			b.WriteByte(format[i])
		}
		return b.String()
	}
	return dt.Format(normalizeFormat(format))
}

// formatValue resolves one placeholder's rendered value: date-kind
// placeholders format parseDateMacro's result, everything else resolves
// secret references in the literal value.
func formatValue(kind PlaceholderKind, value, format string) string {
	if kind == PlaceholderDate {
		v := value
		if v == "" {
			v = "today"
		}
		return formatDate(parseDateMacro(v), format)
	}
	return resolveSecretRefs(value)
}

// buildContext resolves every declared placeholder into a name->value map
// used by tokenReplace.
func buildContext(placeholders []Placeholder) map[string]string {
	ctx := make(map[string]string, len(placeholders))
	for _, p := range placeholders {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		kind := p.Kind
		if kind == "" {
			kind = PlaceholderStatic
		}
		ctx[name] = formatValue(kind, p.Value, p.Format)
	}
	return ctx
}

// tokenReplace substitutes every "{name}" occurrence in template with
// ctx[name], then resolves any remaining secret references.
func tokenReplace(template string, ctx map[string]string) string {
	s := template
	for k, v := range ctx {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return resolveSecretRefs(s)
}
