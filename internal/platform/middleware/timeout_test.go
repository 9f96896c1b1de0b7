package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

// waitForCancel behaves like a store scan that checks ctx between rows.
func waitForCancel(c echo.Context) error {
	select {
	case <-time.After(5 * time.Second):
		return c.NoContent(http.StatusOK)
	case <-c.Request().Context().Done():
		return fmt.Errorf("scan Patient: %w", c.Request().Context().Err())
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name       string
		timeout    time.Duration
		handler    echo.HandlerFunc
		wantStatus int // 0: handler error passed through unchanged
		wantErr    error
	}{
		{
			name:    "completes within deadline",
			timeout: 5 * time.Second,
			handler: func(c echo.Context) error {
				if _, ok := c.Request().Context().Deadline(); !ok {
					return errors.New("context has no deadline")
				}
				return nil
			},
		},
		{
			name:    "zero disables",
			timeout: 0,
			handler: func(c echo.Context) error {
				if _, ok := c.Request().Context().Deadline(); ok {
					return errors.New("unexpected deadline")
				}
				return nil
			},
		},
		{
			name:       "expired deadline is a gateway timeout",
			timeout:    20 * time.Millisecond,
			handler:    waitForCancel,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:    "other handler errors pass through",
			timeout: 5 * time.Second,
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusNotFound, "Patient/123: resource not found")
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:    "client cancellation is not a timeout",
			timeout: 5 * time.Second,
			handler: func(c echo.Context) error {
				return context.Canceled
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil), httptest.NewRecorder())

			err := RequestTimeout(tt.timeout)(tt.handler)(c)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantStatus == 0:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			default:
				var he *echo.HTTPError
				if !errors.As(err, &he) {
					t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
				}
				if he.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", he.Code, tt.wantStatus)
				}
			}
		})
	}
}

func TestRequestTimeout_OutcomeIsTimeout(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/Observation?code=1234", nil), httptest.NewRecorder())

	err := RequestTimeout(10 * time.Millisecond)(waitForCancel)(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	outcome, ok := he.Message.(*fhir.OperationOutcome)
	if !ok || len(outcome.Issue) == 0 {
		t.Fatalf("message is %T, want an OperationOutcome", he.Message)
	}
	if outcome.Issue[0].Code != fhir.IssueTypeTimeout {
		t.Errorf("issue code = %q, want timeout", outcome.Issue[0].Code)
	}
	if !errors.Is(he.Internal, context.DeadlineExceeded) {
		t.Errorf("internal error = %v", he.Internal)
	}
}

func TestRequestTimeout_PanicReachesRecovery(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil), httptest.NewRecorder())

	h := Recovery(zerolog.Nop())(RequestTimeout(5 * time.Second)(func(c echo.Context) error {
		panic("boom")
	}))

	var he *echo.HTTPError
	if err := h(c); !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected a 500 HTTPError, got %v", err)
	}
}
