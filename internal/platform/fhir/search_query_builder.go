package fhir

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// SearchParamType defines the FHIR search parameter type.
type SearchParamType int

const (
	SearchParamToken     SearchParamType = iota // Token: code, identifier, telecom (system|code)
	SearchParamDate                             // Date: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamString                           // String: case-insensitive prefix match, supports :exact, :contains
	SearchParamReference                        // Reference: "Type/id", bare id or absolute URL
	SearchParamNumber                           // Number: supports prefixes, implied precision
	SearchParamQuantity                         // Quantity: number[|system[|code]]
	SearchParamURI                              // URI: exact match
	SearchParamAddress                          // Address: prefix match over every address field
	SearchParamName                             // Name: prefix match over text, family, given
)

// String returns the FHIR type code. Address and name are string
// parameters in FHIR.
func (t SearchParamType) String() string {
	switch t {
	case SearchParamToken:
		return "token"
	case SearchParamDate:
		return "date"
	case SearchParamReference:
		return "reference"
	case SearchParamNumber:
		return "number"
	case SearchParamQuantity:
		return "quantity"
	case SearchParamURI:
		return "uri"
	default:
		return "string"
	}
}

// SearchParamConfig maps a FHIR search parameter to the document elements it
// searches.
type SearchParamConfig struct {
	Type SearchParamType
	// Path is the element searched: the field for string, uri, number and
	// date parameters, the element prefix for token, reference and quantity.
	Path string
	// ValueField is the code-bearing field of a token element ("code" for
	// Coding, "value" for Identifier and ContactPoint).
	ValueField string
	// ForcedSystem fixes the token system (email and phone over telecom).
	ForcedSystem string
	// TargetType qualifies bare ids of a reference parameter.
	TargetType string
	// Precision is the kind of date element of a date parameter.
	Precision DatePrecision
	// Boolean marks a token parameter over a boolean element.
	Boolean bool
}

// SearchParameter is one name[:modifier]=value pair of a search request.
type SearchParameter struct {
	Name     string
	Modifier SearchModifier
	Value    string
}

// IDParam is the logical id parameter every resource type supports.
const IDParam = "_id"

// ParseSearchParameters turns query values into search parameters, in name
// order. Repeated names yield one parameter per occurrence. FHIR control
// parameters (_count, _sort, _summary, ...) are left out; _id is kept.
func ParseSearchParameters(values url.Values) []SearchParameter {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var params []SearchParameter
	for _, k := range keys {
		name, modifier := ParseParamModifier(k)
		if strings.HasPrefix(name, "_") && name != IDParam {
			continue
		}
		for _, v := range values[k] {
			params = append(params, SearchParameter{Name: name, Modifier: modifier, Value: v})
		}
	}
	return params
}

// ExtractSearchParams extracts the search parameters of a request. POSTed
// _search forms are merged with the query string.
func ExtractSearchParams(c echo.Context) []SearchParameter {
	values := url.Values{}
	for k, v := range c.QueryParams() {
		values[k] = append(values[k], v...)
	}
	if c.Request().Method == http.MethodPost {
		if err := c.Request().ParseForm(); err == nil {
			for k, v := range c.Request().PostForm {
				values[k] = append(values[k], v...)
			}
		}
	}
	return ParseSearchParameters(values)
}

// BuildQuery compiles params against a resource's parameter table. Field
// filters are merged into Query.Fields, a later parameter on the same path
// replacing an earlier one; OR-groups are appended to Query.Groups.
// Parameters missing from the table are ignored.
func BuildQuery(params []SearchParameter, table map[string]SearchParamConfig) (docstore.Query, error) {
	q := docstore.NewQuery()
	for _, p := range params {
		if p.Name == IDParam {
			if err := applyID(&q, p.Value); err != nil {
				return docstore.Query{}, err
			}
			continue
		}
		cfg, ok := table[p.Name]
		if !ok {
			continue
		}
		if err := ApplyParam(&q, cfg, p); err != nil {
			return docstore.Query{}, err
		}
	}
	return q, nil
}

func applyID(q *docstore.Query, value string) error {
	alternatives := SplitOr(value)
	if len(alternatives) == 1 {
		if value == "" {
			return invalid("empty _id value")
		}
		q.Where("id", docstore.Eq{Path: "id", Value: value})
		return nil
	}
	group := make([]docstore.Filter, 0, len(alternatives))
	for _, id := range alternatives {
		if id == "" {
			return invalid("empty _id alternative in %q", value)
		}
		group = append(group, docstore.Eq{Path: "id", Value: id})
	}
	q.AddGroup(group)
	return nil
}

// ApplyParam compiles one parameter and adds its fragments to q.
func ApplyParam(q *docstore.Query, cfg SearchParamConfig, p SearchParameter) error {
	switch cfg.Type {
	case SearchParamAddress:
		group, err := CompileAddress(p.Value)
		if err != nil {
			return err
		}
		q.AddGroup(group)
		return nil
	case SearchParamName:
		group, err := CompileName(p.Value)
		if err != nil {
			return err
		}
		q.AddGroup(group)
		return nil
	case SearchParamDate:
		if p.Modifier != "" {
			return invalid("modifier :%s is not supported on date parameter %s", p.Modifier, p.Name)
		}
		f, err := CompileDate(p.Value, cfg.Precision, cfg.Path)
		if err != nil {
			return err
		}
		q.Where(cfg.Path, f)
		return nil
	}

	if p.Modifier != "" && cfg.Type != SearchParamString {
		return invalid("modifier :%s is not supported on parameter %s", p.Modifier, p.Name)
	}

	alternatives := SplitOr(p.Value)
	if len(alternatives) == 1 || cfg.Type == SearchParamNumber || cfg.Type == SearchParamQuantity {
		fields, err := compileFields(cfg, p.Modifier, p.Value)
		if err != nil {
			return err
		}
		q.Merge(fields)
		return nil
	}

	group := make([]docstore.Filter, 0, len(alternatives))
	for _, alt := range alternatives {
		fields, err := compileFields(cfg, p.Modifier, alt)
		if err != nil {
			return err
		}
		group = append(group, conjunction(fields))
	}
	q.AddGroup(group)
	return nil
}

// compileFields compiles one value of a field-mapped parameter.
func compileFields(cfg SearchParamConfig, modifier SearchModifier, value string) (map[string]docstore.Filter, error) {
	switch cfg.Type {
	case SearchParamToken:
		if cfg.Boolean {
			f, err := CompileBoolean(cfg.Path, value)
			if err != nil {
				return nil, err
			}
			return map[string]docstore.Filter{cfg.Path: f}, nil
		}
		return CompileToken(value, cfg.ValueField, cfg.Path, cfg.ForcedSystem)
	case SearchParamReference:
		return CompileReference(value, cfg.Path, cfg.TargetType)
	case SearchParamQuantity:
		return CompileQuantity(value, cfg.Path)
	case SearchParamNumber:
		f, err := CompileNumber(cfg.Path, value)
		if err != nil {
			return nil, err
		}
		return map[string]docstore.Filter{cfg.Path: f}, nil
	case SearchParamURI:
		if value == "" {
			return nil, invalid("empty uri value for %s", cfg.Path)
		}
		return map[string]docstore.Filter{cfg.Path: docstore.Eq{Path: cfg.Path, Value: value}}, nil
	default:
		f, err := CompileString(cfg.Path, value, modifier)
		if err != nil {
			return nil, err
		}
		return map[string]docstore.Filter{cfg.Path: f}, nil
	}
}

// AddressParams returns the address-* parameters of a resource with an
// Address element named address.
func AddressParams() map[string]SearchParamConfig {
	return map[string]SearchParamConfig{
		"address":            {Type: SearchParamAddress},
		"address-city":       {Type: SearchParamString, Path: "address.city"},
		"address-country":    {Type: SearchParamString, Path: "address.country"},
		"address-postalcode": {Type: SearchParamString, Path: "address.postalCode"},
		"address-state":      {Type: SearchParamString, Path: "address.state"},
		"address-use":        {Type: SearchParamToken, Path: "address.use"},
	}
}

// TelecomParams returns the email, phone and telecom parameters over a
// ContactPoint element named telecom.
func TelecomParams() map[string]SearchParamConfig {
	return map[string]SearchParamConfig{
		"email":   {Type: SearchParamToken, Path: "telecom", ValueField: "value", ForcedSystem: "email"},
		"phone":   {Type: SearchParamToken, Path: "telecom", ValueField: "value", ForcedSystem: "phone"},
		"telecom": {Type: SearchParamToken, Path: "telecom", ValueField: "value"},
	}
}

// WithParams merges tables into one; later tables win on name collisions.
func WithParams(tables ...map[string]SearchParamConfig) map[string]SearchParamConfig {
	out := map[string]SearchParamConfig{}
	for _, t := range tables {
		for name, cfg := range t {
			out[name] = cfg
		}
	}
	return out
}
