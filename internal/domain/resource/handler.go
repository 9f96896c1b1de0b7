package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/search"
	"github.com/ehr/fhirsearch/internal/platform/store"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

// MIMEFHIRJSON is the content type of every FHIR response.
const MIMEFHIRJSON = "application/fhir+json; charset=utf-8"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the FHIR interactions on g, normally /fhir. Static
// segments win over parameters, so /:type/_history never reaches Read.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/metadata", h.Metadata)

	g.GET("", h.SearchSystem)
	g.POST("/_search", h.SearchSystem)

	g.GET("/:type", h.Search)
	g.POST("/:type/_search", h.Search)
	g.GET("/:type/_history", h.TypeHistory)
	g.POST("/:type", h.Create)

	g.GET("/:type/:id", h.Read)
	g.PUT("/:type/:id", h.Update)
	g.DELETE("/:type/:id", h.Delete)
	g.GET("/:type/:id/_history", h.History)
	g.GET("/:type/:id/_history/:vid", h.VRead)

	// Compartment search: :type names the compartment and :target the
	// resource type searched within it.
	g.GET("/:type/:id/:target", h.SearchCompartment)
}

func writeJSON(c echo.Context, status int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return c.Blob(status, MIMEFHIRJSON, data)
}

// searchParams collects the query string and, for POST, the form body.
func searchParams(c echo.Context) (search.Params, error) {
	params, err := search.ParseRawQuery(c.Request().URL.RawQuery)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	if c.Request().Method == http.MethodPost {
		if _, err := c.FormParams(); err != nil {
			if he := asHTTPError(err); he != nil {
				return nil, he
			}
			return nil, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("invalid form body: "+err.Error()))
		}
		params = append(params, search.FromValues(c.Request().PostForm)...)
	}
	return params, nil
}

func (h *Handler) Metadata(c echo.Context) error {
	cs, err := h.svc.Capabilities(c.Request().Context())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, cs)
}

func (h *Handler) SearchSystem(c echo.Context) error {
	params, err := searchParams(c)
	if err != nil {
		return err
	}
	bundle, err := h.svc.Search(c.Request().Context(), "", params, fhir.GetHandlingPreference(c))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, bundle)
}

func (h *Handler) Search(c echo.Context) error {
	params, err := searchParams(c)
	if err != nil {
		return err
	}
	bundle, err := h.svc.Search(c.Request().Context(), c.Param("type"), params, fhir.GetHandlingPreference(c))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, bundle)
}

func (h *Handler) SearchCompartment(c echo.Context) error {
	params, err := searchParams(c)
	if err != nil {
		return err
	}
	bundle, err := h.svc.SearchCompartment(c.Request().Context(),
		c.Param("type"), c.Param("id"), c.Param("target"), params, fhir.GetHandlingPreference(c))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, bundle)
}

// respondVersion writes v with its version headers, honoring
// If-None-Match.
func respondVersion(c echo.Context, status int, v *fhir.Resource) error {
	fhir.SetVersionHeaders(c, v)
	if status == http.StatusOK && fhir.NotModified(c, v.VersionID) {
		return c.NoContent(http.StatusNotModified)
	}
	return writeJSON(c, status, v.Body)
}

func (h *Handler) Read(c echo.Context) error {
	v, err := h.svc.Read(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		return err
	}
	return respondVersion(c, http.StatusOK, v)
}

func (h *Handler) VRead(c echo.Context) error {
	vid, err := strconv.Atoi(c.Param("vid"))
	if err != nil || vid < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("version id must be a positive integer: "+c.Param("vid")))
	}
	v, err := h.svc.VRead(c.Request().Context(), c.Param("type"), c.Param("id"), vid)
	if err != nil {
		return err
	}
	return respondVersion(c, http.StatusOK, v)
}

func historyRequest(c echo.Context, id string) (HistoryRequest, error) {
	req := HistoryRequest{
		ResourceType: c.Param("type"),
		ID:           id,
		Page:         pagination.FromContext(c),
	}
	if s := c.QueryParam("_since"); s != "" {
		since, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("_since must be an instant: "+s))
		}
		req.Since = &since
	}
	return req, nil
}

func (h *Handler) History(c echo.Context) error {
	req, err := historyRequest(c, c.Param("id"))
	if err != nil {
		return err
	}
	bundle, err := h.svc.History(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, bundle)
}

func (h *Handler) TypeHistory(c echo.Context) error {
	req, err := historyRequest(c, "")
	if err != nil {
		return err
	}
	bundle, err := h.svc.History(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, bundle)
}

// asHTTPError surfaces an HTTP error raised while reading the body, such as
// the body limit.
func asHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return nil
}

func bindBody(c echo.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		if he := asHTTPError(err); he != nil {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("request body is not a JSON resource: "+err.Error()))
	}
	return body, nil
}

// respondWrite applies the Prefer return directive to a create or update.
func respondWrite(c echo.Context, status int, v *fhir.Resource, baseURL string) error {
	c.Response().Header().Set(echo.HeaderLocation, baseURL+"/"+v.Location())
	fhir.SetVersionHeaders(c, v)
	switch fhir.GetReturnPreference(c) {
	case fhir.ReturnMinimal:
		return c.NoContent(status)
	case fhir.ReturnOperationOutcome:
		outcome := fhir.NewOperationOutcome(fhir.IssueSeverityInformation, fhir.IssueTypeInformation,
			fmt.Sprintf("%s stored as version %d", v.Key(), v.VersionID))
		return writeJSON(c, status, outcome)
	default:
		return writeJSON(c, status, v.Body)
	}
}

func (h *Handler) Create(c echo.Context) error {
	body, err := bindBody(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Create(c.Request().Context(), c.Param("type"), body)
	if err != nil {
		return err
	}
	return respondWrite(c, http.StatusCreated, v, h.svc.BaseURL())
}

func (h *Handler) Update(c echo.Context) error {
	ifMatch, err := fhir.IfMatch(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("invalid If-Match header: "+err.Error()))
	}
	body, err := bindBody(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Update(c.Request().Context(), c.Param("type"), c.Param("id"), body, ifMatch)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if store.Created(v) {
		status = http.StatusCreated
	}
	return respondWrite(c, status, v, h.svc.BaseURL())
}

func (h *Handler) Delete(c echo.Context) error {
	v, err := h.svc.Delete(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		return err
	}
	c.Response().Header().Set("ETag", fhir.FormatETag(v.VersionID))
	return c.NoContent(http.StatusNoContent)
}
