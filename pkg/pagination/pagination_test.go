package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Count != DefaultCount {
		t.Errorf("expected default count %d, got %d", DefaultCount, p.Count)
	}
	if p.Page != 1 {
		t.Errorf("expected default page 1, got %d", p.Page)
	}
}

func TestFromContext_FHIRParams(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?_count=25&_page=3", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Count != 25 {
		t.Errorf("expected count 25, got %d", p.Count)
	}
	if p.Page != 3 {
		t.Errorf("expected page 3, got %d", p.Page)
	}
	if p.Offset() != 50 {
		t.Errorf("expected offset 50, got %d", p.Offset())
	}
}

func TestFromContext_MaxCount(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?_count=5000", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Count != MaxCount {
		t.Errorf("expected count capped at %d, got %d", MaxCount, p.Count)
	}
}

func TestFromContext_InvalidPage(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?_page=-2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Page != 1 {
		t.Errorf("expected page 1 for negative input, got %d", p.Page)
	}
}

func TestParams_Window(t *testing.T) {
	tests := []struct {
		name             string
		params           Params
		total            int
		wantStart, wantE int
	}{
		{"first page", Params{Count: 10, Page: 1}, 25, 0, 10},
		{"last partial page", Params{Count: 10, Page: 3}, 25, 20, 25},
		{"past end", Params{Count: 10, Page: 9}, 25, 25, 25},
		{"count only", Params{Count: 0, Page: 1}, 25, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.params.Window(tt.total)
			if start != tt.wantStart || end != tt.wantE {
				t.Errorf("Window() = [%d,%d), want [%d,%d)", start, end, tt.wantStart, tt.wantE)
			}
		})
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Count: 10, Page: 1}, 25, true},
		{"exact end", Params{Count: 10, Page: 2}, 20, false},
		{"past end", Params{Count: 10, Page: 4}, 25, false},
		{"no results", Params{Count: 10, Page: 1}, 0, false},
		{"count only", Params{Count: 0, Page: 1}, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParams_LastPage(t *testing.T) {
	tests := []struct {
		total, count, want int
	}{
		{0, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
	}
	for _, tt := range tests {
		if got := (Params{Count: tt.count, Page: 1}).LastPage(tt.total); got != tt.want {
			t.Errorf("LastPage(%d) with count %d = %d, want %d", tt.total, tt.count, got, tt.want)
		}
	}
}

func TestParams_Relations(t *testing.T) {
	rels := Params{Count: 10, Page: 2}.Relations(25)

	got := make(map[string]int)
	var order []string
	for _, r := range rels {
		got[r.Name] = r.Page
		order = append(order, r.Name)
	}
	want := map[string]int{"self": 2, "first": 1, "previous": 1, "next": 3, "last": 3}
	for name, page := range want {
		if got[name] != page {
			t.Errorf("%s: expected page %d, got %d", name, page, got[name])
		}
	}
	if order[0] != "self" {
		t.Errorf("expected self first, got %v", order)
	}
}

func TestParams_Relations_CountOnly(t *testing.T) {
	rels := Params{Count: 0, Page: 1}.Relations(25)
	if len(rels) != 1 || rels[0].Name != "self" {
		t.Fatalf("expected self only, got %+v", rels)
	}
}

func TestParams_Relations_PastEnd(t *testing.T) {
	rels := Params{Count: 10, Page: 9}.Relations(25)
	for _, r := range rels {
		if r.Name == "next" {
			t.Error("did not expect 'next' past the last page")
		}
		if r.Name == "previous" && r.Page != 3 {
			t.Errorf("expected previous clamped to 3, got %d", r.Page)
		}
	}
}
