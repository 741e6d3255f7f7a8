package docstore

import (
	"sort"
	"time"
)

// Comparator is a FHIR ordered-value comparison prefix.
type Comparator string

const (
	CmpEq Comparator = "eq"
	CmpNe Comparator = "ne"
	CmpGt Comparator = "gt"
	CmpLt Comparator = "lt"
	CmpGe Comparator = "ge"
	CmpLe Comparator = "le"
	CmpSa Comparator = "sa" // starts after
	CmpEb Comparator = "eb" // ends before
	CmpAp Comparator = "ap" // approximately
)

// MatchMode selects how a Match fragment compares strings.
type MatchMode int

const (
	// MatchPrefix is a case-insensitive starts-with.
	MatchPrefix MatchMode = iota
	// MatchContains is a case-insensitive substring match.
	MatchContains
	// MatchExact is a case-sensitive full-string match.
	MatchExact
)

// Filter is a predicate over a document. The concrete fragments are Eq,
// Match, DateRange, NumberRange, And and Or.
type Filter interface {
	isFilter()
}

// Eq matches when any value at Path equals Value. Value is a string, a bool
// or a float64.
type Eq struct {
	Path  string
	Value interface{}
}

// Match compares string values at Path against Value.
type Match struct {
	Path  string
	Value string
	Mode  MatchMode
}

// DateRange compares the interval denoted by each date value at Path with
// the interval [Lower, Upper) of the search value. When Period is set the
// values at Path are Period objects and their start/end bound the interval.
//
// LowerText and UpperText are Lower and Upper rendered at the precision of
// the search value, for backends that compare ISO strings.
type DateRange struct {
	Path      string
	Cmp       Comparator
	Lower     time.Time
	Upper     time.Time
	LowerText string
	UpperText string
	Period    bool
}

// NumberRange compares numeric values at Path with Value. Lower and Upper
// are the implied precision bounds used by eq and ne.
type NumberRange struct {
	Path  string
	Cmp   Comparator
	Value float64
	Lower float64
	Upper float64
}

// And matches when every child matches.
type And []Filter

// Or matches when at least one child matches.
type Or []Filter

func (Eq) isFilter()          {}
func (Match) isFilter()       {}
func (DateRange) isFilter()   {}
func (NumberRange) isFilter() {}
func (And) isFilter()         {}
func (Or) isFilter()          {}

// Query is a compiled search: one filter per field path plus any number of
// OR-groups. Fields and groups are conjoined; each group is a disjunction.
type Query struct {
	Fields map[string]Filter
	Groups [][]Filter
}

// NewQuery returns an empty query, which matches every document.
func NewQuery() Query {
	return Query{Fields: map[string]Filter{}}
}

// ByID returns a query matching the document with the given logical id.
func ByID(id string) Query {
	q := NewQuery()
	q.Where("id", Eq{Path: "id", Value: id})
	return q
}

// ByVersion returns a query matching one version of a logical id.
func ByVersion(id, versionID string) Query {
	q := ByID(id)
	q.Where("meta.versionId", Eq{Path: "meta.versionId", Value: versionID})
	return q
}

// Where sets the filter for path. A filter already set for the same path is
// replaced.
func (q *Query) Where(path string, f Filter) {
	if q.Fields == nil {
		q.Fields = map[string]Filter{}
	}
	q.Fields[path] = f
}

// Merge copies every entry of fields into the query, replacing collisions.
func (q *Query) Merge(fields map[string]Filter) {
	for path, f := range fields {
		q.Where(path, f)
	}
}

// AddGroup appends an OR-group. Groups are kept as given, even with a single
// member.
func (q *Query) AddGroup(group []Filter) {
	if len(group) == 0 {
		return
	}
	q.Groups = append(q.Groups, group)
}

// IsEmpty reports whether the query has no constraint at all.
func (q Query) IsEmpty() bool {
	return len(q.Fields) == 0 && len(q.Groups) == 0
}

// Paths returns the field paths in a stable order.
func (q Query) Paths() []string {
	paths := make([]string, 0, len(q.Fields))
	for p := range q.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Conjuncts flattens the query into the list of filters that must all hold,
// fields first in path order, then one Or per group.
func (q Query) Conjuncts() []Filter {
	out := make([]Filter, 0, len(q.Fields)+len(q.Groups))
	for _, p := range q.Paths() {
		out = append(out, q.Fields[p])
	}
	for _, g := range q.Groups {
		out = append(out, Or(g))
	}
	return out
}
