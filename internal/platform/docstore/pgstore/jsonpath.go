package pgstore

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// Predicate is a query compiled to a SQL/JSON path expression plus the
// variables it references. An empty Path means "no constraint".
type Predicate struct {
	Path string
	Vars map[string]interface{}
}

// VarsJSON encodes the variables for the jsonb_path_exists vars argument.
func (p Predicate) VarsJSON() ([]byte, error) {
	if p.Vars == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Vars)
}

// Translate compiles q into a lax-mode jsonpath filter over the document
// root. Arrays along a path are unwrapped by lax mode, so every leaf test is
// existential over the values at its path, as in docstore.Matches.
func Translate(q docstore.Query) (Predicate, error) {
	if q.IsEmpty() {
		return Predicate{}, nil
	}
	t := &translator{vars: map[string]interface{}{}}
	conj := q.Conjuncts()
	parts := make([]string, 0, len(conj))
	for _, f := range conj {
		expr, err := t.filter(f)
		if err != nil {
			return Predicate{}, err
		}
		parts = append(parts, expr)
	}
	return Predicate{
		Path: "$ ? (" + strings.Join(parts, " && ") + ")",
		Vars: t.vars,
	}, nil
}

type translator struct {
	vars map[string]interface{}
}

// bind registers v as a path variable and returns its reference.
func (t *translator) bind(v interface{}) string {
	name := "v" + strconv.Itoa(len(t.vars))
	t.vars[name] = v
	return "$" + name
}

func (t *translator) filter(f docstore.Filter) (string, error) {
	switch f := f.(type) {
	case docstore.Eq:
		return exists(f.Path, "@ == "+t.bind(f.Value)), nil
	case docstore.Match:
		return exists(f.Path, t.match(f)), nil
	case docstore.DateRange:
		return t.dateRange(f), nil
	case docstore.NumberRange:
		return exists(f.Path, t.numberRange(f)), nil
	case docstore.And:
		return t.join(f, " && ")
	case docstore.Or:
		return t.join(f, " || ")
	}
	return "", fmt.Errorf("pgstore: unsupported filter %T", f)
}

func (t *translator) join(children []docstore.Filter, op string) (string, error) {
	if len(children) == 0 {
		if op == " && " {
			return "(1 == 1)", nil
		}
		return "(1 == 0)", nil
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		expr, err := t.filter(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

func (t *translator) match(m docstore.Match) string {
	switch m.Mode {
	case docstore.MatchExact:
		return "@ == " + t.bind(m.Value)
	case docstore.MatchContains:
		return "@ like_regex " + quote(regexp.QuoteMeta(m.Value)) + ` flag "i"`
	default:
		return "@ like_regex " + quote("^"+regexp.QuoteMeta(m.Value)) + ` flag "i"`
	}
}

// dateRange compares ISO strings rendered at the search precision. Stored
// dates are expected in UTC.
func (t *translator) dateRange(d docstore.DateRange) string {
	lo, hi := d.LowerText, d.UpperText
	if d.Cmp == docstore.CmpAp {
		lo = docstore.FormatAt(d.Lower.Add(-docstore.ApproxDateWindow), docstore.PrecisionSecond)
		hi = docstore.FormatAt(d.Upper.Add(docstore.ApproxDateWindow), docstore.PrecisionSecond)
	}
	if lo == "" {
		lo = docstore.FormatAt(d.Lower, docstore.PrecisionSecond)
	}
	if hi == "" {
		hi = docstore.FormatAt(d.Upper, docstore.PrecisionSecond)
	}
	l, h := t.bind(lo), t.bind(hi)

	if !d.Period {
		var pred string
		switch d.Cmp {
		case docstore.CmpNe:
			pred = "!(@ >= " + l + " && @ < " + h + ")"
		case docstore.CmpGt, docstore.CmpSa:
			pred = "@ >= " + h
		case docstore.CmpLt, docstore.CmpEb:
			pred = "@ < " + l
		case docstore.CmpGe:
			pred = "@ >= " + l
		case docstore.CmpLe:
			pred = "@ < " + h
		default:
			pred = "@ >= " + l + " && @ < " + h
		}
		return exists(d.Path, pred)
	}

	openStart := "!exists(@.start)"
	openEnd := "!exists(@.end)"
	var pred string
	switch d.Cmp {
	case docstore.CmpNe:
		pred = "!(@.start >= " + l + " && @.end < " + h + ")"
	case docstore.CmpGt:
		pred = openEnd + " || @.end >= " + h
	case docstore.CmpLt:
		pred = openStart + " || @.start < " + l
	case docstore.CmpGe:
		pred = openEnd + " || @.end >= " + h + " || (@.start >= " + l + " && @.end < " + h + ")"
	case docstore.CmpLe:
		pred = openStart + " || @.start < " + l + " || (@.start >= " + l + " && @.end < " + h + ")"
	case docstore.CmpSa:
		pred = "@.start >= " + h
	case docstore.CmpEb:
		pred = "@.end < " + l
	case docstore.CmpAp:
		pred = "(" + openStart + " || @.start < " + h + ") && (" + openEnd + " || @.end >= " + l + ")"
	default:
		pred = "@.start >= " + l + " && @.end < " + h
	}
	return exists(d.Path, pred)
}

func (t *translator) numberRange(r docstore.NumberRange) string {
	switch r.Cmp {
	case docstore.CmpNe:
		return "!(@ >= " + t.bind(r.Lower) + " && @ < " + t.bind(r.Upper) + ")"
	case docstore.CmpGt, docstore.CmpSa:
		return "@ > " + t.bind(r.Value)
	case docstore.CmpLt, docstore.CmpEb:
		return "@ < " + t.bind(r.Value)
	case docstore.CmpGe:
		return "@ >= " + t.bind(r.Value)
	case docstore.CmpLe:
		return "@ <= " + t.bind(r.Value)
	case docstore.CmpAp:
		delta := math.Abs(r.Value) * docstore.ApproxNumberRatio
		return "@ >= " + t.bind(r.Value-delta) + " && @ <= " + t.bind(r.Value+delta)
	default:
		return "@ >= " + t.bind(r.Lower) + " && @ < " + t.bind(r.Upper)
	}
}

// exists wraps a predicate on the values found at path.
func exists(path, pred string) string {
	return "exists(" + accessor(path) + " ? (" + pred + "))"
}

// accessor renders a dot path as quoted member accessors relative to @.
func accessor(path string) string {
	var b strings.Builder
	b.WriteString("@")
	for _, step := range strings.Split(path, ".") {
		b.WriteString(".")
		b.WriteString(quote(step))
	}
	return b.String()
}

// quote renders s as a jsonpath string literal.
func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
