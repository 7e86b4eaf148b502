package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"composer/internal/jsonvalue"
)

var inputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"01/02/2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// namedFormats are the format names accepted besides Go layouts and tokens.
var namedFormats = map[string]string{
	"iso":     time.RFC3339,
	"rfc3339": time.RFC3339,
	"rfc822":  time.RFC1123Z,
	"rfc1123": time.RFC1123,
	"date":    "2006-01-02",
}

var tokenReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// ParseTime reads a date-like value: a string in a common layout, or a unix
// timestamp in seconds (or milliseconds when large enough to be one).
func ParseTime(v jsonvalue.Value, layout string) (time.Time, error) {
	if n, ok := v.AsNumber(); ok {
		if math.Abs(n) >= 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	s, ok := v.AsString()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s is not date-like", ErrNotApplicable, v.Kind())
	}
	s = strings.TrimSpace(s)
	if layout != "" {
		return time.Parse(goLayout(layout), s)
	}
	for _, l := range inputLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ParseTime(jsonvalue.NumberValue(float64(n)), "")
	}
	return time.Time{}, fmt.Errorf("%w: %q is not date-like", ErrNotApplicable, s)
}

// FormatTime renders t per format. "unix" and "unix-ms" produce numbers.
func FormatTime(t time.Time, format string) jsonvalue.Value {
	switch format {
	case "unix":
		return jsonvalue.NumberValue(float64(t.Unix()))
	case "unix-ms":
		return jsonvalue.NumberValue(float64(t.UnixMilli()))
	}
	return jsonvalue.StringValue(t.Format(goLayout(format)))
}

func goLayout(format string) string {
	if format == "" {
		return time.RFC3339
	}
	if l, ok := namedFormats[strings.ToLower(format)]; ok {
		return l
	}
	return tokenReplacer.Replace(format)
}

func dateFormat(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	t, err := ParseTime(v, cfg.String("inputFormat", ""))
	if err != nil {
		return v, err
	}
	if tz := cfg.String("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return v, fmt.Errorf("%w: timezone %q: %v", ErrBadConfig, tz, err)
		}
		t = t.In(loc)
	}
	return FormatTime(t, cfg.String("format", "")), nil
}
