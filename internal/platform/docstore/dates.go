package docstore

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Precision is the granularity of a partial date/time.
type Precision int

const (
	PrecisionYear Precision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionFraction
)

// Interval is the half-open range [Lower, Upper) a partial date denotes.
type Interval struct {
	Lower     time.Time
	Upper     time.Time
	Precision Precision
}

var (
	// MinTime and MaxTime stand in for open interval ends.
	MinTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

var partialTimePattern = regexp.MustCompile(
	`^(\d{4})(?:-(\d{2})(?:-(\d{2})(?:T(\d{2}):(\d{2})(?::(\d{2})(\.\d{1,9})?)?(Z|[+-]\d{2}:\d{2})?)?)?)?$`)

// ParseInterval parses a partial ISO-8601 date or date-time ("2016",
// "2016-08", "2016-08-10", "2016-08-10T04:30", "2016-08-10T04:30:44.123Z",
// "2016-08-10T04:30:44+01:00") into the interval it covers. Times without a
// zone are read as UTC.
func ParseInterval(s string) (Interval, error) {
	m := partialTimePattern.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("malformed date %q", s)
	}

	year, _ := strconv.Atoi(m[1])
	month, day, hour, minute, sec, nsec := 1, 1, 0, 0, 0, 0
	precision := PrecisionYear
	var fracDigits int

	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
		precision = PrecisionMonth
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
		precision = PrecisionDay
	}
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		precision = PrecisionMinute
	}
	if m[6] != "" {
		sec, _ = strconv.Atoi(m[6])
		precision = PrecisionSecond
	}
	if m[7] != "" {
		frac := m[7][1:]
		fracDigits = len(frac)
		n, _ := strconv.Atoi(frac)
		for i := fracDigits; i < 9; i++ {
			n *= 10
		}
		nsec = n
		precision = PrecisionFraction
	}

	if month < 1 || month > 12 || hour > 23 || minute > 59 || sec > 59 {
		return Interval{}, fmt.Errorf("malformed date %q: field out of range", s)
	}

	loc := time.UTC
	if zone := m[8]; zone != "" && zone != "Z" {
		offH, _ := strconv.Atoi(zone[1:3])
		offM, _ := strconv.Atoi(zone[4:6])
		offset := offH*3600 + offM*60
		if zone[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone(zone, offset)
	}

	lower := time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc)
	if lower.Day() != day {
		return Interval{}, fmt.Errorf("malformed date %q: no such day", s)
	}
	lower = lower.UTC()

	var upper time.Time
	switch precision {
	case PrecisionYear:
		upper = lower.AddDate(1, 0, 0)
	case PrecisionMonth:
		upper = lower.AddDate(0, 1, 0)
	case PrecisionDay:
		upper = lower.AddDate(0, 0, 1)
	case PrecisionMinute:
		upper = lower.Add(time.Minute)
	case PrecisionSecond:
		upper = lower.Add(time.Second)
	default:
		step := time.Duration(1)
		for i := fracDigits; i < 9; i++ {
			step *= 10
		}
		upper = lower.Add(step)
	}

	return Interval{Lower: lower, Upper: upper, Precision: precision}, nil
}

// FormatAt renders t (in UTC) at the given precision, so that strings of the
// same precision sort chronologically.
func FormatAt(t time.Time, p Precision) string {
	t = t.UTC()
	switch p {
	case PrecisionYear:
		return t.Format("2006")
	case PrecisionMonth:
		return t.Format("2006-01")
	case PrecisionDay:
		return t.Format("2006-01-02")
	case PrecisionMinute:
		return t.Format("2006-01-02T15:04")
	case PrecisionSecond:
		return t.Format("2006-01-02T15:04:05")
	default:
		return t.Format("2006-01-02T15:04:05.999999999")
	}
}

// CompareIntervals applies a FHIR date comparator between a target interval
// [tl, tu) taken from a document and the search interval [pl, pu).
func CompareIntervals(cmp Comparator, tl, tu, pl, pu time.Time) bool {
	eq := !tl.Before(pl) && !tu.After(pu)
	switch cmp {
	case CmpNe:
		return !eq
	case CmpGt:
		return tu.After(pu)
	case CmpLt:
		return tl.Before(pl)
	case CmpGe:
		return eq || tu.After(pu)
	case CmpLe:
		return eq || tl.Before(pl)
	case CmpSa:
		return !tl.Before(pu)
	case CmpEb:
		return !tu.After(pl)
	case CmpAp:
		low := pl.Add(-ApproxDateWindow)
		high := pu.Add(ApproxDateWindow)
		return tl.Before(high) && tu.After(low)
	default:
		return eq
	}
}

// ApproxDateWindow widens the search interval on both ends for the ap prefix.
const ApproxDateWindow = 24 * time.Hour
