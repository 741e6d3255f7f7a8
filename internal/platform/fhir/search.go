package fhir

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact    SearchModifier = "exact"
	ModifierContains SearchModifier = "contains"
	ModifierText     SearchModifier = "text"
)

// DatePrecision names the kind of date element a parameter targets.
type DatePrecision string

const (
	PrecisionDate     DatePrecision = "date"
	PrecisionDateTime DatePrecision = "dateTime"
	PrecisionInstant  DatePrecision = "instant"
	PrecisionPeriod   DatePrecision = "period"
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) (string, SearchModifier) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 2 {
		return parts[0], SearchModifier(parts[1])
	}
	return parts[0], ""
}

// SplitOr splits a parameter value on unescaped commas. "\," stays a
// literal comma inside one alternative.
func SplitOr(value string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(value); i++ {
		switch {
		case value[i] == '\\' && i+1 < len(value) && value[i+1] == ',':
			cur.WriteByte(',')
			i++
		case value[i] == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(value[i])
		}
	}
	return append(parts, cur.String())
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CompileString builds a string match on path. The default is a
// case-insensitive starts-with; :exact is a case-sensitive full match and
// :contains (or :text) a case-insensitive substring match.
func CompileString(path, value string, modifier SearchModifier) (docstore.Filter, error) {
	if value == "" {
		return nil, invalid("empty string value for %s", path)
	}
	switch modifier {
	case "":
		return docstore.Match{Path: path, Value: value, Mode: docstore.MatchPrefix}, nil
	case ModifierExact:
		return docstore.Match{Path: path, Value: value, Mode: docstore.MatchExact}, nil
	case ModifierContains, ModifierText:
		return docstore.Match{Path: path, Value: value, Mode: docstore.MatchContains}, nil
	}
	return nil, invalid("modifier :%s is not supported on string parameters", modifier)
}

// CompileToken builds the field filters for a token value. pathPrefix is the
// Coding/Identifier/ContactPoint element and valueField its code-bearing
// field ("code" or "value"); the system lives at pathPrefix.system. An empty
// valueField targets a plain code stored at pathPrefix itself.
//
// With a forcedSystem (email and phone over telecom) the system filter is
// fixed and the value must not carry a pipe.
func CompileToken(value, valueField, pathPrefix, forcedSystem string) (map[string]docstore.Filter, error) {
	if value == "" || value == "|" {
		return nil, invalid("empty token value for %s", pathPrefix)
	}

	codePath := pathPrefix
	if valueField != "" {
		codePath = pathPrefix + "." + valueField
	}
	systemPath := pathPrefix + ".system"
	out := map[string]docstore.Filter{}

	if forcedSystem != "" {
		if strings.Contains(value, "|") {
			return nil, invalid("%s does not accept a system, got %q", pathPrefix, value)
		}
		out[systemPath] = docstore.Eq{Path: systemPath, Value: forcedSystem}
		out[codePath] = docstore.Eq{Path: codePath, Value: value}
		return out, nil
	}

	system, code, piped := strings.Cut(value, "|")
	if !piped {
		out[codePath] = docstore.Eq{Path: codePath, Value: value}
		return out, nil
	}
	if valueField == "" {
		if code == "" {
			return nil, invalid("%s is a plain code and takes no system-only search", pathPrefix)
		}
		out[codePath] = docstore.Eq{Path: codePath, Value: code}
		return out, nil
	}
	if system != "" {
		out[systemPath] = docstore.Eq{Path: systemPath, Value: system}
	}
	if code != "" {
		out[codePath] = docstore.Eq{Path: codePath, Value: code}
	}
	return out, nil
}

var absoluteReference = regexp.MustCompile(`^https?://.+/([A-Za-z]+)/([A-Za-z0-9\-\.]{1,64})$`)

// CompileReference builds an exact match on pathPrefix.reference. A bare id
// is qualified with targetType when one is known; absolute URLs are reduced
// to their Type/id tail.
func CompileReference(value, pathPrefix, targetType string) (map[string]docstore.Filter, error) {
	if value == "" {
		return nil, invalid("empty reference value for %s", pathPrefix)
	}
	ref := value
	switch {
	case absoluteReference.MatchString(value):
		m := absoluteReference.FindStringSubmatch(value)
		ref = m[1] + "/" + m[2]
	case strings.Contains(value, "/"):
	case targetType != "":
		ref = targetType + "/" + value
	}
	path := pathPrefix + ".reference"
	return map[string]docstore.Filter{path: docstore.Eq{Path: path, Value: ref}}, nil
}

// CompileDate builds a date-range filter. The value is an optional prefix
// followed by a partial ISO-8601 date or date-time, denoting the interval of
// its precision. Date-typed targets compare at day granularity; period
// targets read start/end from a Period object.
func CompileDate(value string, precision DatePrecision, path string) (docstore.Filter, error) {
	parsed := ParseSearchValue(value)
	if parsed.Value == "" {
		return nil, invalid("empty date value for %s", path)
	}
	iv, err := docstore.ParseInterval(parsed.Value)
	if err != nil {
		return nil, invalid("%s: %v", path, err)
	}

	textPrecision := iv.Precision
	if textPrecision == docstore.PrecisionFraction {
		textPrecision = docstore.PrecisionSecond
	}
	if precision == PrecisionDate && iv.Precision > docstore.PrecisionDay {
		iv.Lower = truncateDay(iv.Lower)
		iv.Upper = truncateDay(iv.Upper.Add(-time.Nanosecond)).AddDate(0, 0, 1)
		textPrecision = docstore.PrecisionDay
	}

	return docstore.DateRange{
		Path:      path,
		Cmp:       docstore.Comparator(parsed.Prefix),
		Lower:     iv.Lower,
		Upper:     iv.Upper,
		LowerText: docstore.FormatAt(iv.Lower, textPrecision),
		UpperText: upperText(iv.Upper, textPrecision),
		Period:    precision == PrecisionPeriod,
	}, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// upperText renders an exclusive upper bound. Sub-second bounds round up to
// the next second so string comparison stays exclusive.
func upperText(t time.Time, p docstore.Precision) string {
	if p == docstore.PrecisionSecond && t.Nanosecond() != 0 {
		t = t.Truncate(time.Second).Add(time.Second)
	}
	return docstore.FormatAt(t, p)
}

var addressFields = []string{"line", "city", "district", "state", "postalCode", "country"}

// CompileAddress builds the OR-group of case-insensitive prefix matches over
// every textual Address field.
func CompileAddress(value string) ([]docstore.Filter, error) {
	return anyFieldPrefix("address", addressFields, value)
}

var nameFields = []string{"text", "family", "given"}

// CompileName builds the OR-group of case-insensitive prefix matches over
// the HumanName text, family and given fields.
func CompileName(value string) ([]docstore.Filter, error) {
	return anyFieldPrefix("name", nameFields, value)
}

func anyFieldPrefix(element string, fields []string, value string) ([]docstore.Filter, error) {
	if value == "" {
		return nil, invalid("empty %s value", element)
	}
	group := make([]docstore.Filter, 0, len(fields))
	for _, f := range fields {
		group = append(group, docstore.Match{Path: element + "." + f, Value: value, Mode: docstore.MatchPrefix})
	}
	return group, nil
}

// CompileNumber builds a number comparison on path. Equality honours the
// implied precision of the value: "100" matches [99.5, 100.5).
func CompileNumber(path, value string) (docstore.Filter, error) {
	parsed := ParseSearchValue(value)
	n, err := strconv.ParseFloat(parsed.Value, 64)
	if err != nil {
		return nil, invalid("%s: malformed number %q", path, parsed.Value)
	}
	half := impliedHalfStep(parsed.Value)
	return docstore.NumberRange{
		Path:  path,
		Cmp:   docstore.Comparator(parsed.Prefix),
		Value: n,
		Lower: n - half,
		Upper: n + half,
	}, nil
}

func impliedHalfStep(number string) float64 {
	mantissa := strings.ToLower(number)
	exp := 0
	if i := strings.IndexByte(mantissa, 'e'); i >= 0 {
		exp, _ = strconv.Atoi(mantissa[i+1:])
		mantissa = mantissa[:i]
	}
	decimals := 0
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		decimals = len(mantissa) - i - 1
	}
	step := 1.0
	for i := 0; i < decimals-exp; i++ {
		step /= 10
	}
	for i := 0; i < exp-decimals; i++ {
		step *= 10
	}
	return step / 2
}

// CompileQuantity builds the filters for "[prefix]number[|system[|code]]"
// against a Quantity element at pathPrefix.
func CompileQuantity(value, pathPrefix string) (map[string]docstore.Filter, error) {
	if value == "" {
		return nil, invalid("empty quantity value for %s", pathPrefix)
	}
	parts := strings.SplitN(value, "|", 3)
	valuePath := pathPrefix + ".value"
	num, err := CompileNumber(valuePath, parts[0])
	if err != nil {
		return nil, err
	}
	out := map[string]docstore.Filter{valuePath: num}
	if len(parts) > 1 && parts[1] != "" {
		p := pathPrefix + ".system"
		out[p] = docstore.Eq{Path: p, Value: parts[1]}
	}
	if len(parts) > 2 && parts[2] != "" {
		p := pathPrefix + ".code"
		out[p] = docstore.Eq{Path: p, Value: parts[2]}
	}
	return out, nil
}

// CompileBoolean builds an equality on a boolean element.
func CompileBoolean(path, value string) (docstore.Filter, error) {
	switch value {
	case "true":
		return docstore.Eq{Path: path, Value: true}, nil
	case "false":
		return docstore.Eq{Path: path, Value: false}, nil
	}
	return nil, invalid("%s expects true or false, got %q", path, value)
}

// conjunction folds a field map into one filter, in path order.
func conjunction(fields map[string]docstore.Filter) docstore.Filter {
	if len(fields) == 1 {
		for _, f := range fields {
			return f
		}
	}
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	and := make(docstore.And, 0, len(paths))
	for _, p := range paths {
		and = append(and, fields[p])
	}
	return and
}
