package fhir

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// HandlingPreference represents the FHIR Prefer handling directive value.
// Under handling=strict unknown or unsupported search parameters are errors;
// under handling=lenient (the default) they are dropped with a warning.
type HandlingPreference string

const (
	HandlingStrict  HandlingPreference = "strict"
	HandlingLenient HandlingPreference = "lenient"
)

// ReturnPreference represents the FHIR Prefer return directive value.
type ReturnPreference string

const (
	ReturnMinimal          ReturnPreference = "minimal"
	ReturnRepresentation   ReturnPreference = "representation"
	ReturnOperationOutcome ReturnPreference = "OperationOutcome"
)

const (
	contextKeyHandling = "fhir.handling"
	contextKeyReturn   = "fhir.return"
)

// PreferDirective holds the parsed directives of a Prefer header.
type PreferDirective struct {
	Return   ReturnPreference
	Handling HandlingPreference
}

// ParsePrefer parses a Prefer header. Directives may be separated by commas
// or semicolons; unknown directives are ignored.
func ParsePrefer(prefer string) PreferDirective {
	d := PreferDirective{Handling: HandlingLenient}

	normalized := strings.ReplaceAll(strings.TrimSpace(prefer), ",", ";")
	for _, part := range strings.Split(normalized, ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "handling="):
			switch v := HandlingPreference(strings.TrimSpace(part[len("handling="):])); v {
			case HandlingStrict, HandlingLenient:
				d.Handling = v
			}
		case strings.HasPrefix(part, "return="):
			switch v := ReturnPreference(strings.TrimSpace(part[len("return="):])); v {
			case ReturnMinimal, ReturnRepresentation, ReturnOperationOutcome:
				d.Return = v
			}
		}
	}
	return d
}

// ParsePreferHandling extracts the handling preference, defaulting to
// lenient.
func ParsePreferHandling(prefer string) HandlingPreference {
	return ParsePrefer(prefer).Handling
}

// PreferMiddleware stores the parsed Prefer directives on the echo.Context
// and echoes the applied handling mode in X-FHIR-Handling.
func PreferMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := ParsePrefer(c.Request().Header.Get("Prefer"))
			c.Set(contextKeyHandling, d.Handling)
			c.Set(contextKeyReturn, d.Return)
			c.Response().Header().Set("X-FHIR-Handling", string(d.Handling))
			return next(c)
		}
	}
}

// GetHandlingPreference returns the handling preference set by
// PreferMiddleware, or lenient.
func GetHandlingPreference(c echo.Context) HandlingPreference {
	if h, ok := c.Get(contextKeyHandling).(HandlingPreference); ok {
		return h
	}
	return HandlingLenient
}

// GetReturnPreference returns the return preference, defaulting to
// representation.
func GetReturnPreference(c echo.Context) ReturnPreference {
	if r, ok := c.Get(contextKeyReturn).(ReturnPreference); ok && r != "" {
		return r
	}
	return ReturnRepresentation
}
