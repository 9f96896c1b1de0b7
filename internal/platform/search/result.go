package search

import (
	"strconv"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

// Mode is the search mode of a bundle entry.
type Mode string

const (
	ModeMatch   Mode = fhir.SearchModeMatch
	ModeInclude Mode = fhir.SearchModeInclude
	ModeOutcome Mode = fhir.SearchModeOutcome
)

// Entry is one resource of a result. Body is the rendered body, possibly
// trimmed by _summary or _elements; Resource is the stored version.
type Entry struct {
	Resource *fhir.Resource
	Body     map[string]interface{}
	Mode     Mode
}

// Link is a paging link. Params parse back into the same query.
type Link struct {
	Relation string
	Params   Params
}

// Result is one page of a search.
type Result struct {
	Query   *Query
	Entries []Entry
	// Total is nil when _total=none.
	Total *int
	// Matched is the number of matches before paging.
	Matched  int
	Links    []Link
	Warnings []string
}

// subsettedTag marks bodies trimmed by _summary or _elements.
var subsettedTag = map[string]interface{}{
	"system": "http://terminology.hl7.org/CodeSystem/v3-ObservationValue",
	"code":   "SUBSETTED",
}

// summaryElements are kept by _summary=true besides the mandatory ones.
var summaryElements = []string{
	"identifier", "active", "status", "name", "code", "category", "subject", "patient",
	"type", "url", "version", "title", "date", "gender", "birthDate", "effectiveDateTime",
	"period", "intent", "class",
}

// assemble pages the sorted matches, renders entries and builds links.
func assemble(q *Query, matches, included []*fhir.Resource) *Result {
	res := &Result{Query: q, Matched: len(matches), Warnings: q.Warnings}
	if q.Total != TotalNone {
		n := len(matches)
		res.Total = &n
	}

	page := pagination.Params{Count: q.Count, Page: q.Page}
	if q.Summary != SummaryCount {
		start, end := page.Window(len(matches))
		for _, r := range matches[start:end] {
			res.Entries = append(res.Entries, Entry{Resource: r, Body: render(q, r), Mode: ModeMatch})
		}
		for _, r := range included {
			res.Entries = append(res.Entries, Entry{Resource: r, Body: r.Copy().Body, Mode: ModeInclude})
		}
	}

	for _, rel := range page.Relations(len(matches)) {
		res.Links = append(res.Links, Link{Relation: rel.Name, Params: pageParams(q, rel.Page)})
	}
	return res
}

// pageParams returns the applied parameters with explicit paging.
func pageParams(q *Query, page int) Params {
	p := append(Params(nil), q.Effective...)
	return append(p,
		Param{Key: "_count", Value: strconv.Itoa(q.Count)},
		Param{Key: "_page", Value: strconv.Itoa(page)},
	)
}

// render returns the body of a MATCH entry after _summary and _elements.
func render(q *Query, r *fhir.Resource) map[string]interface{} {
	body := r.Copy().Body
	switch q.Summary {
	case SummaryTrue:
		return subset(body, summaryElements)
	case SummaryText:
		return subset(body, []string{"text"})
	case SummaryData:
		delete(body, "text")
		markSubsetted(body)
		return body
	}
	if len(q.Elements) > 0 {
		return subset(body, q.Elements)
	}
	return body
}

func subset(body map[string]interface{}, keep []string) map[string]interface{} {
	out := map[string]interface{}{
		"resourceType": body["resourceType"],
		"id":           body["id"],
	}
	if meta, ok := body["meta"]; ok {
		out["meta"] = meta
	}
	for _, k := range keep {
		if v, ok := body[k]; ok {
			out[k] = v
		}
	}
	markSubsetted(out)
	return out
}

func markSubsetted(body map[string]interface{}) {
	meta, _ := body["meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
		body["meta"] = meta
	}
	tags, _ := meta["tag"].([]interface{})
	for _, t := range tags {
		if tm, ok := t.(map[string]interface{}); ok && tm["code"] == subsettedTag["code"] {
			return
		}
	}
	tag := make(map[string]interface{}, len(subsettedTag))
	for k, v := range subsettedTag {
		tag[k] = v
	}
	meta["tag"] = append(tags, tag)
}

// Bundle renders the result as a searchset. path is the request path
// relative to baseURL, e.g. "Patient" or "" for a system search.
func (r *Result) Bundle(baseURL, path string) (*fhir.Bundle, error) {
	entries := make([]fhir.SearchEntry, 0, len(r.Entries)+1)
	for _, e := range r.Entries {
		entries = append(entries, fhir.SearchEntry{Body: e.Body, Mode: string(e.Mode)})
	}
	if len(r.Warnings) > 0 {
		entries = append(entries, fhir.SearchEntry{
			Body: fhir.WarningOutcome(r.Warnings...).Map(),
			Mode: string(ModeOutcome),
		})
	}
	links := make([]fhir.BundleLink, 0, len(r.Links))
	for _, l := range r.Links {
		links = append(links, fhir.BundleLink{
			Relation: l.Relation,
			URL:      fhir.SearchURL(baseURL, path, l.Params.Encode()),
		})
	}
	return fhir.NewSearchBundle(entries, r.Total, links, baseURL)
}
