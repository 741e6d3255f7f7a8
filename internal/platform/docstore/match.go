package docstore

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Matches reports whether doc satisfies every field filter and at least one
// member of every group of q.
func Matches(doc Document, q Query) bool {
	for _, f := range q.Fields {
		if !MatchFilter(doc, f) {
			return false
		}
	}
	for _, group := range q.Groups {
		if !MatchFilter(doc, Or(group)) {
			return false
		}
	}
	return true
}

// MatchFilter evaluates one filter fragment against doc. Leaf fragments hold
// when any value at their path satisfies them.
func MatchFilter(doc Document, f Filter) bool {
	switch t := f.(type) {
	case Eq:
		for _, v := range Values(doc, t.Path) {
			if equalValue(v, t.Value) {
				return true
			}
		}
		return false
	case Match:
		for _, v := range Values(doc, t.Path) {
			if s, ok := v.(string); ok && matchString(s, t.Value, t.Mode) {
				return true
			}
		}
		return false
	case DateRange:
		for _, v := range Values(doc, t.Path) {
			lo, hi, ok := targetInterval(v, t.Period)
			if ok && CompareIntervals(t.Cmp, lo, hi, t.Lower, t.Upper) {
				return true
			}
		}
		return false
	case NumberRange:
		for _, v := range Values(doc, t.Path) {
			n, ok := toFloat(v)
			if ok && compareNumber(t, n) {
				return true
			}
		}
		return false
	case And:
		for _, child := range t {
			if !MatchFilter(doc, child) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range t {
			if MatchFilter(doc, child) {
				return true
			}
		}
		return false
	}
	return false
}

func matchString(have, want string, mode MatchMode) bool {
	switch mode {
	case MatchExact:
		return have == want
	case MatchContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	default:
		return strings.HasPrefix(strings.ToLower(have), strings.ToLower(want))
	}
}

func equalValue(have, want interface{}) bool {
	switch w := want.(type) {
	case string:
		s, ok := have.(string)
		return ok && s == w
	case bool:
		b, ok := have.(bool)
		return ok && b == w
	default:
		wf, ok := toFloat(want)
		if !ok {
			return false
		}
		hf, ok := toFloat(have)
		return ok && hf == wf
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// targetInterval turns a stored date (or Period object) into [lower, upper).
func targetInterval(v interface{}, period bool) (time.Time, time.Time, bool) {
	if !period {
		s, ok := v.(string)
		if !ok {
			return time.Time{}, time.Time{}, false
		}
		iv, err := ParseInterval(s)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		return iv.Lower, iv.Upper, true
	}

	obj, ok := asObject(v)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	lower, upper := MinTime, MaxTime
	start, _ := obj["start"].(string)
	end, _ := obj["end"].(string)
	if start == "" && end == "" {
		return time.Time{}, time.Time{}, false
	}
	if start != "" {
		iv, err := ParseInterval(start)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		lower = iv.Lower
	}
	if end != "" {
		iv, err := ParseInterval(end)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		upper = iv.Upper
	}
	return lower, upper, true
}

// ApproxNumberRatio is the relative tolerance of the ap prefix on numbers.
const ApproxNumberRatio = 0.1

func compareNumber(r NumberRange, n float64) bool {
	inRange := n >= r.Lower && n < r.Upper
	switch r.Cmp {
	case CmpNe:
		return !inRange
	case CmpGt, CmpSa:
		return n > r.Value
	case CmpLt, CmpEb:
		return n < r.Value
	case CmpGe:
		return n >= r.Value
	case CmpLe:
		return n <= r.Value
	case CmpAp:
		return math.Abs(n-r.Value) <= math.Abs(r.Value)*ApproxNumberRatio
	default:
		return inRange
	}
}
