// Package resource serves the FHIR REST surface over the version store and
// the search engine: read, vread, history, create, update, delete, search,
// compartment search and the capability statement.
package resource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/search"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

var (
	// ErrInvalid is returned for bodies or ids the server refuses to store.
	ErrInvalid = errors.New("invalid resource")
	// ErrUnknownType is returned for resource types the registry does not
	// define.
	ErrUnknownType = errors.New("unknown resource type")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)

type Service struct {
	store   store.Store
	engine  *search.Engine
	baseURL string
}

func NewService(st store.Store, engine *search.Engine, baseURL string) *Service {
	return &Service{store: st, engine: engine, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL is the absolute URL the server is reachable at.
func (s *Service) BaseURL() string {
	return s.baseURL
}

func (s *Service) checkType(ctx context.Context, resourceType string) error {
	reg, err := s.engine.Registry(ctx)
	if err != nil {
		return err
	}
	if !reg.IsResourceType(resourceType) {
		return fmt.Errorf("%w: %s", ErrUnknownType, resourceType)
	}
	return nil
}

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q is not a valid FHIR id", ErrInvalid, id)
	}
	return nil
}

// checkBody verifies that body is a resource of resourceType. A body id, when
// present, must equal id.
func checkBody(resourceType, id string, body map[string]interface{}) error {
	if body == nil {
		return fmt.Errorf("%w: empty body", ErrInvalid)
	}
	if rt := fhir.StringAt(body, "resourceType"); rt != resourceType {
		return fmt.Errorf("%w: resourceType %q does not match %q", ErrInvalid, rt, resourceType)
	}
	if bodyID, ok := body["id"]; ok && id != "" && bodyID != id {
		return fmt.Errorf("%w: body id %v does not match %q", ErrInvalid, bodyID, id)
	}
	return nil
}

func (s *Service) Read(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	return s.store.Current(ctx, resourceType, id)
}

func (s *Service) VRead(ctx context.Context, resourceType, id string, version int) (*fhir.Resource, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	return s.store.Version(ctx, resourceType, id, version)
}

// Create stores a new resource under a server-assigned id. A client id in
// the body is ignored.
func (s *Service) Create(ctx context.Context, resourceType string, body map[string]interface{}) (*fhir.Resource, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	if err := checkBody(resourceType, "", body); err != nil {
		return nil, err
	}
	delete(body, "id")
	v, err := s.store.Create(ctx, resourceType, body)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resourceType, err)
	}
	return v, nil
}

// Update appends a version of resourceType/id, creating or restoring it.
// ifMatch > 0 makes the update conditional on the current version.
func (s *Service) Update(ctx context.Context, resourceType, id string, body map[string]interface{}, ifMatch int) (*fhir.Resource, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := checkBody(resourceType, id, body); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, resourceType, id, body, ifMatch)
}

func (s *Service) Delete(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	return s.store.Delete(ctx, resourceType, id)
}

// HistoryRequest selects a page of versions.
type HistoryRequest struct {
	ResourceType string
	// ID is empty for type-level history.
	ID    string
	Since *time.Time
	Page  pagination.Params
}

// History returns a history bundle, newest version first.
func (s *Service) History(ctx context.Context, req HistoryRequest) (*fhir.Bundle, error) {
	if err := s.checkType(ctx, req.ResourceType); err != nil {
		return nil, err
	}

	var (
		versions []*fhir.Resource
		err      error
		level    = fhir.HistoryInstance
		path     = req.ResourceType + "/" + req.ID + "/_history"
	)
	if req.ID == "" {
		level = fhir.HistoryType
		path = req.ResourceType + "/_history"
		versions, err = s.store.TypeHistory(ctx, req.ResourceType)
	} else {
		versions, err = s.store.History(ctx, req.ResourceType, req.ID)
	}
	if err != nil {
		return nil, err
	}

	if req.Since != nil {
		kept := versions[:0:0]
		for _, v := range versions {
			if !v.LastUpdated.Before(*req.Since) {
				kept = append(kept, v)
			}
		}
		versions = kept
	}

	total := len(versions)
	start, end := req.Page.Window(total)
	links := make([]fhir.BundleLink, 0, 5)
	for _, rel := range req.Page.Relations(total) {
		links = append(links, fhir.BundleLink{
			Relation: rel.Name,
			URL:      fhir.SearchURL(s.baseURL, path, historyQuery(req, rel.Page)),
		})
	}
	return fhir.NewHistoryBundle(versions[start:end], total, links, s.baseURL, level)
}

func historyQuery(req HistoryRequest, page int) string {
	params := search.Params{{Key: "_count", Value: fmt.Sprint(req.Page.Count)}}
	if req.Since != nil {
		params = append(params, search.Param{Key: "_since", Value: req.Since.UTC().Format(time.RFC3339Nano)})
	}
	params = append(params, search.Param{Key: "_page", Value: fmt.Sprint(page)})
	return params.Encode()
}

// Search runs a type-level search, or a system search when resourceType is
// empty, and renders the searchset.
func (s *Service) Search(ctx context.Context, resourceType string, params search.Params, handling fhir.HandlingPreference) (*fhir.Bundle, error) {
	if resourceType != "" {
		if err := s.checkType(ctx, resourceType); err != nil {
			return nil, err
		}
	}
	res, err := s.engine.Search(ctx, resourceType, params, handling)
	if err != nil {
		return nil, err
	}
	return res.Bundle(s.baseURL, resourceType)
}

// SearchCompartment searches resourceType within compartmentType/id.
func (s *Service) SearchCompartment(ctx context.Context, compartmentType, id, resourceType string, params search.Params, handling fhir.HandlingPreference) (*fhir.Bundle, error) {
	if err := s.checkType(ctx, resourceType); err != nil {
		return nil, err
	}
	res, err := s.engine.SearchCompartment(ctx, compartmentType, id, resourceType, params, handling)
	if err != nil {
		return nil, err
	}
	return res.Bundle(s.baseURL, compartmentType+"/"+id+"/"+resourceType)
}

// Capabilities describes every registered type and its search parameters
// for the tenant in ctx.
func (s *Service) Capabilities(ctx context.Context) (*fhir.CapabilityStatement, error) {
	reg, err := s.engine.Registry(ctx)
	if err != nil {
		return nil, err
	}
	types := reg.ResourceTypes()
	resources := make([]fhir.CSResource, 0, len(types))
	for _, t := range types {
		resources = append(resources, capability(reg, t))
	}
	return fhir.NewCapabilityStatement(s.baseURL, resources), nil
}

func capability(reg *searchparam.Registry, resourceType string) fhir.CSResource {
	r := fhir.CSResource{
		Type:        resourceType,
		Interaction: fhir.ResourceInteractions,
		Versioning:  "versioned",
		ReadHistory: true,
	}
	for _, def := range reg.Params(resourceType) {
		r.SearchParam = append(r.SearchParam, fhir.CSSearchParam{Name: def.Code, Type: def.Type.String()})
	}
	for _, def := range reg.ReferenceParams(resourceType) {
		r.SearchInclude = append(r.SearchInclude, resourceType+":"+def.Code)
	}
	sort.Strings(r.SearchInclude)
	return r
}
