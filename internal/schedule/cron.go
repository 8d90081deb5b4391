// Package schedule parses the six-field cron dialect of the provider's
// scheduler: minutes, hours, day-of-month, month, day-of-week and year.
// All evaluation happens in UTC.
package schedule

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

type field struct {
	name   string
	min    int
	max    int
	labels []string
}

var (
	minuteField = field{name: "minutes", min: 0, max: 59}
	hourField   = field{name: "hours", min: 0, max: 23}
	domField    = field{name: "day-of-month", min: 1, max: 31}
	monthField  = field{name: "month", min: 1, max: 12, labels: []string{
		"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
	}}
	dowField  = field{name: "day-of-week", min: 1, max: 7, labels: []string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}}
	yearField = field{name: "year", min: 1970, max: 2199}
)

func (f field) size() int { return f.max - f.min + 1 }

type bitset [4]uint64

func (b *bitset) set(i int) { b[i/64] |= uint64(1) << (i % 64) }

func (b bitset) has(i int) bool {
	if i < 0 || i >= 256 {
		return false
	}
	return b[i/64]&(uint64(1)<<(i%64)) != 0
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b bitset) first() int {
	for i := 0; i < 256; i++ {
		if b.has(i) {
			return i
		}
	}
	return -1
}

// format renders the set with runs of three or more collapsed into ranges.
func (b bitset) format(f field) string {
	label := func(i int) string {
		if f.labels != nil {
			return f.labels[i]
		}
		return strconv.Itoa(i + f.min)
	}
	var parts []string
	for i := 0; i < f.size(); i++ {
		if !b.has(i) {
			continue
		}
		j := i
		for j+1 < f.size() && b.has(j+1) {
			j++
		}
		switch {
		case j-i >= 2:
			parts = append(parts, label(i)+"-"+label(j))
		case j > i:
			parts = append(parts, label(i), label(j))
		default:
			parts = append(parts, label(i))
		}
		i = j
	}
	return strings.Join(parts, ",")
}

// Expression is a parsed cron expression.
type Expression struct {
	fields  []string
	minutes bitset
	hours   bitset
	doms    bitset
	months  bitset
	dows    bitset
	years   bitset
	// useDOW is set when day-of-month is "?" and days are selected by weekday.
	useDOW bool
}

// Parse accepts either "cron(...)" or the bare six fields.
func Parse(expr string) (*Expression, error) {
	body := strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(body, "cron(") && strings.HasSuffix(body, ")"):
		body = body[len("cron(") : len(body)-1]
	case strings.HasPrefix(body, "rate(") || strings.HasPrefix(body, "at("):
		return nil, appErr.Newf(appErr.CodeInvalid, "%q: only cron expressions are supported", expr)
	}
	fields := strings.Fields(body)
	if len(fields) != 6 {
		return nil, appErr.Newf(appErr.CodeInvalid, "%q: expected 6 fields, got %d", expr, len(fields))
	}

	domAny, dowAny := fields[2] == "?", fields[4] == "?"
	switch {
	case domAny && dowAny:
		return nil, appErr.Newf(appErr.CodeInvalid, "%q: day-of-month and day-of-week cannot both be ?", expr)
	case !domAny && !dowAny:
		return nil, appErr.Newf(appErr.CodeInvalid, "%q: one of day-of-month and day-of-week must be ?", expr)
	}

	e := &Expression{fields: fields, useDOW: domAny}
	var err error
	if e.minutes, err = parseField(fields[0], minuteField); err != nil {
		return nil, wrapField(err, expr)
	}
	if e.hours, err = parseField(fields[1], hourField); err != nil {
		return nil, wrapField(err, expr)
	}
	if !domAny {
		if e.doms, err = parseField(fields[2], domField); err != nil {
			return nil, wrapField(err, expr)
		}
	}
	if e.months, err = parseField(fields[3], monthField); err != nil {
		return nil, wrapField(err, expr)
	}
	if !dowAny {
		if e.dows, err = parseField(fields[4], dowField); err != nil {
			return nil, wrapField(err, expr)
		}
	}
	if e.years, err = parseField(fields[5], yearField); err != nil {
		return nil, wrapField(err, expr)
	}
	return e, nil
}

// MustParse is Parse for expressions known at compile time.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func wrapField(err error, expr string) error {
	return appErr.Wrap(err, appErr.CodeInvalid, fmt.Sprintf("parse %q", expr))
}

func parseField(s string, f field) (bitset, error) {
	var set bitset
	if s == "?" {
		return set, fmt.Errorf("? is only allowed in day-of-month or day-of-week")
	}
	for _, elem := range strings.Split(s, ",") {
		if elem == "" {
			return set, fmt.Errorf("%s: empty list element in %q", f.name, s)
		}
		rangePart, stepPart, hasStep := strings.Cut(elem, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n < 1 {
				return set, fmt.Errorf("%s: invalid step %q", f.name, stepPart)
			}
			step = n
		}

		var lo, hi int
		if rangePart == "*" {
			lo, hi = f.min, f.max
		} else {
			a, b, isRange := strings.Cut(rangePart, "-")
			v, err := parseValue(a, f)
			if err != nil {
				return set, err
			}
			lo, hi = v, v
			if isRange {
				if hi, err = parseValue(b, f); err != nil {
					return set, err
				}
			} else if hasStep {
				hi = f.max
			}
		}
		if lo > hi {
			return set, fmt.Errorf("%s: range %q runs backwards", f.name, rangePart)
		}
		for v := lo; v <= hi; v += step {
			set.set(v - f.min)
		}
	}
	return set, nil
}

func parseValue(tok string, f field) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		if n < f.min || n > f.max {
			return 0, fmt.Errorf("%s: %d out of range %d-%d", f.name, n, f.min, f.max)
		}
		return n, nil
	}
	for i, l := range f.labels {
		if strings.EqualFold(tok, l) {
			return i + f.min, nil
		}
	}
	if strings.ContainsAny(tok, "LW#") {
		return 0, fmt.Errorf("%s: %q uses L, W or # which are not supported", f.name, tok)
	}
	return 0, fmt.Errorf("%s: invalid value %q", f.name, tok)
}

// String returns the expression in cron(...) form.
func (e *Expression) String() string {
	return "cron(" + strings.Join(e.fields, " ") + ")"
}

func (e *Expression) dayMatches(t time.Time) bool {
	if e.useDOW {
		return e.dows.has(int(t.Weekday()))
	}
	return e.doms.has(t.Day() - domField.min)
}

// Next returns the first firing strictly after the given time, or the zero
// time if the expression never fires again.
func (e *Expression) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	for t.Year() <= yearField.max {
		y, m, d := t.Date()
		switch {
		case !e.years.has(y - yearField.min):
			t = time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		case !e.months.has(int(m) - monthField.min):
			t = time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
		case !e.dayMatches(t):
			t = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
		case !e.hours.has(t.Hour()):
			t = time.Date(y, m, d, t.Hour()+1, 0, 0, 0, time.UTC)
		case !e.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

// NextN returns up to n consecutive firings after the given time.
func (e *Expression) NextN(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		after = e.Next(after)
		if after.IsZero() {
			break
		}
		out = append(out, after)
	}
	return out
}

// FiresOn reports whether the expression can fire on the given weekday.
// Day-of-month schedules land on every weekday over time.
func (e *Expression) FiresOn(wd time.Weekday) bool {
	if e.useDOW {
		return e.dows.has(int(wd))
	}
	return e.doms.count() > 0
}

// FiresPerDay is the number of firings on any day the expression selects.
func (e *Expression) FiresPerDay() int {
	return e.minutes.count() * e.hours.count()
}

// Describe renders the expression in words, e.g. "at 22:30 UTC on MON-FRI".
func (e *Expression) Describe() string {
	var b strings.Builder
	if e.FiresPerDay() == 1 {
		fmt.Fprintf(&b, "at %02d:%02d UTC", e.hours.first(), e.minutes.first())
	} else {
		fmt.Fprintf(&b, "%d times a day (UTC)", e.FiresPerDay())
	}
	switch {
	case e.useDOW && e.dows.count() == dowField.size(), !e.useDOW && e.doms.count() == domField.size():
		b.WriteString(" every day")
	case e.useDOW:
		b.WriteString(" on " + e.dows.format(dowField))
	default:
		b.WriteString(" on day " + e.doms.format(domField) + " of the month")
	}
	if e.months.count() < monthField.size() {
		b.WriteString(" in " + e.months.format(monthField))
	}
	if e.years.count() < yearField.size() {
		b.WriteString(" in " + e.years.format(yearField))
	}
	return b.String()
}
