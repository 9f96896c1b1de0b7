package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

// slowSearch is the duration above which a search is logged at warn level.
const slowSearch = time.Second

// Config holds the engine limits.
type Config struct {
	BaseURL       string
	DefaultCount  int
	MaxCount      int
	MaxIncludes   int
	MaxChainDepth int
}

// Engine evaluates searches against a store. It is safe for concurrent use.
type Engine struct {
	store   store.Store
	params  *searchparam.Provider
	cache   *IndexCache
	metrics *Metrics
	log     zerolog.Logger
	cfg     Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records search metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIndexCache shares an index cache across engines.
func WithIndexCache(c *IndexCache) Option {
	return func(e *Engine) { e.cache = c }
}

// NewEngine returns an engine over st. Tenant registries come from params.
func NewEngine(st store.Store, params *searchparam.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		params: params,
		log:    zerolog.Nop(),
		cfg:    cfg,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cache == nil {
		e.cache, _ = NewIndexCache(DefaultIndexCacheSize)
	}
	return e
}

// Registry returns the registry snapshot for the tenant in ctx.
func (e *Engine) Registry(ctx context.Context) (*searchparam.Registry, error) {
	return e.params.ForTenant(store.TenantFromContext(ctx))
}

func (e *Engine) parser(reg *searchparam.Registry) *Parser {
	return &Parser{
		Registry:      reg,
		Base:          e.cfg.BaseURL,
		DefaultCount:  e.cfg.DefaultCount,
		MaxCount:      e.cfg.MaxCount,
		MaxChainDepth: e.cfg.MaxChainDepth,
	}
}

// Parse validates params without running the search.
func (e *Engine) Parse(ctx context.Context, resourceType string, params Params, handling fhir.HandlingPreference) (*Query, error) {
	reg, err := e.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return e.parser(reg).Parse(resourceType, params, handling)
}

// Search runs a type-level search, or a system search when resourceType
// is "".
func (e *Engine) Search(ctx context.Context, resourceType string, params Params, handling fhir.HandlingPreference) (*Result, error) {
	start := time.Now()
	reg, err := e.Registry(ctx)
	if err != nil {
		return nil, err
	}
	q, err := e.parser(reg).Parse(resourceType, params, handling)
	if err != nil {
		e.finish(ctx, resourceType, params, start, nil, err)
		return nil, err
	}
	res, err := e.execute(ctx, reg, q)
	e.finish(ctx, resourceType, params, start, res, err)
	return res, err
}

// SearchCompartment runs a search of resourceType restricted to the
// compartment of compartmentType/id.
func (e *Engine) SearchCompartment(ctx context.Context, compartmentType, id, resourceType string, params Params, handling fhir.HandlingPreference) (*Result, error) {
	start := time.Now()
	reg, err := e.Registry(ctx)
	if err != nil {
		return nil, err
	}
	codes, ok := CompartmentParams(compartmentType, resourceType)
	if _, known := compartments[compartmentType]; !known {
		return nil, resolutionError(msgCompartmentType, compartmentType)
	}
	if !ok {
		return nil, resolutionError(msgCompartmentMember, resourceType, compartmentType)
	}
	q, err := e.parser(reg).Parse(resourceType, params, handling)
	if err != nil {
		e.finish(ctx, resourceType, params, start, nil, err)
		return nil, err
	}
	c := &Compartment{Owner: reference.Query{Kind: reference.QueryLocal, ResourceType: compartmentType, ID: id}}
	for _, code := range codes {
		if def, ok := reg.Lookup(resourceType, code); ok {
			c.Params = append(c.Params, def)
		}
	}
	q.Filters = append([]Filter{c}, q.Filters...)
	res, err := e.execute(ctx, reg, q)
	e.finish(ctx, resourceType, params, start, res, err)
	return res, err
}

func (e *Engine) finish(ctx context.Context, resourceType string, params Params, start time.Time, res *Result, err error) {
	label := displayType(resourceType)
	elapsed := time.Since(start)
	logger := e.log.With().
		Str("tenant", store.TenantFromContext(ctx)).
		Str("resource_type", label).
		Str("query", params.Encode()).
		Dur("elapsed", elapsed).
		Logger()

	switch {
	case err != nil:
		outcome := "error"
		if se, ok := AsError(err); ok {
			outcome = se.Kind.String()
			logger.Debug().Str("kind", outcome).Msg(se.Msg)
		} else {
			logger.Error().Err(err).Msg("search failed")
		}
		e.metrics.observe(label, outcome, start)
		return
	case elapsed > slowSearch:
		logger.Warn().Int("matched", res.Matched).Msg("slow search")
	}
	for _, w := range res.Warnings {
		logger.Debug().Msg(w)
	}
	e.metrics.observe(label, "ok", start)
	e.metrics.result(label, res)
}

// execute evaluates a parsed query.
func (e *Engine) execute(ctx context.Context, reg *searchparam.Registry, q *Query) (*Result, error) {
	ev := &evaluator{
		store:    e.store,
		registry: reg,
		base:     e.cfg.BaseURL,
		cache:    e.cache,
		tenant:   store.TenantFromContext(ctx),
		metrics:  e.metrics,
	}

	types, err := e.searchTypes(ctx, reg, q)
	if err != nil {
		return nil, err
	}
	perType := make([][]*fhir.Resource, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			found, err := ev.run(gctx, t, q.Filters)
			if err != nil {
				return err
			}
			perType[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, e.contextError(ctx, err)
	}
	var matches []*fhir.Resource
	for _, found := range perType {
		matches = append(matches, found...)
	}
	ev.sortResources(matches, q.Sort)

	var included []*fhir.Resource
	if q.Summary != SummaryCount && q.HasIncludes() {
		start, end := pagination.Params{Count: q.Count, Page: q.Page}.Window(len(matches))
		included, err = ev.include(ctx, q, matches[start:end], e.cfg.MaxIncludes)
		if err != nil {
			return nil, e.contextError(ctx, err)
		}
	}
	return assemble(q, matches, included), nil
}

// searchTypes returns the types a query scans.
func (e *Engine) searchTypes(ctx context.Context, reg *searchparam.Registry, q *Query) ([]string, error) {
	if q.ResourceType != "" {
		return []string{q.ResourceType}, nil
	}
	if len(q.Types) > 0 {
		return q.Types, nil
	}
	stored, err := e.store.ResourceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resource types: %w", err)
	}
	out := make([]string, 0, len(stored))
	for _, t := range stored {
		if reg.IsResourceType(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Engine) contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("search: %w", ctxErr)
	}
	return err
}
