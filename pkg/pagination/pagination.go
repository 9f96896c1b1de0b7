package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultCount = 10
	MaxCount     = 1000
)

// Params holds page-number pagination extracted from a request.
type Params struct {
	Count int
	Page  int
}

// New clamps count and page into range. A zero count is kept: it asks for
// the total only.
func New(count, page int) Params {
	if count < 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}
	if page < 1 {
		page = 1
	}
	return Params{Count: count, Page: page}
}

// FromContext extracts _count and _page from the echo context.
func FromContext(c echo.Context) Params {
	count := DefaultCount
	if v := c.QueryParam("_count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}
	page, _ := strconv.Atoi(c.QueryParam("_page"))
	return New(count, page)
}

// Offset returns the index of the first item on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Count
}

// Window returns the [start, end) slice bounds of the page within total
// items.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset()
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
	return p.Count > 0 && p.Offset()+p.Count < total
}

// HasPrevious returns true if there are pages before the current one.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// LastPage returns the number of the final page, at least 1.
func (p Params) LastPage(total int) int {
	if p.Count <= 0 || total <= 0 {
		return 1
	}
	return (total + p.Count - 1) / p.Count
}

// Relation names a page relative to the current one.
type Relation struct {
	Name string
	Page int
}

// Relations returns the self, first, previous, next and last pages that
// apply for total items, in that order.
func (p Params) Relations(total int) []Relation {
	rels := []Relation{{Name: "self", Page: p.Page}}
	if p.Count == 0 {
		return rels
	}
	rels = append(rels, Relation{Name: "first", Page: 1})
	if p.HasPrevious() {
		prev := p.Page - 1
		if last := p.LastPage(total); prev > last {
			prev = last
		}
		rels = append(rels, Relation{Name: "previous", Page: prev})
	}
	if p.HasNext(total) {
		rels = append(rels, Relation{Name: "next", Page: p.Page + 1})
	}
	return append(rels, Relation{Name: "last", Page: p.LastPage(total)})
}
