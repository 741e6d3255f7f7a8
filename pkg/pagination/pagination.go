// Package pagination pages FHIR search results with _count and _offset.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultCount = 20
	MaxCount     = 100
)

// Params holds the paging parameters of a request.
type Params struct {
	Count  int
	Offset int
}

// FromContext extracts _count and _offset from the query string or a
// POSTed search form. Missing or invalid values fall back to the defaults.
func FromContext(c echo.Context) Params {
	count, _ := strconv.Atoi(c.FormValue("_count"))
	if count <= 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	offset, _ := strconv.Atoi(c.FormValue("_offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Count: count, Offset: offset}
}

// Bounds returns the slice bounds of the page within total results.
func (p Params) Bounds(total int) (start, end int) {
	start = p.Offset
	if start > total {
		start = total
	}
	end = start + p.Count
	if end > total {
		end = total
	}
	return start, end
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Count < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Count
}

// PreviousOffset returns the offset of the previous page, never negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Count
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is one Bundle.link entry.
type Link struct {
	Relation string
	URL      string
}

// Links builds the self, next and previous links of a searchset. Filter
// parameters of query are carried over; paging parameters are replaced.
func (p Params) Links(base string, query url.Values, total int) []Link {
	links := []Link{{Relation: "self", URL: p.pageURL(base, query, p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.pageURL(base, query, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.pageURL(base, query, p.PreviousOffset())})
	}
	return links
}

func (p Params) pageURL(base string, query url.Values, offset int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("_count", strconv.Itoa(p.Count))
	q.Set("_offset", strconv.Itoa(offset))
	return base + "?" + q.Encode()
}
