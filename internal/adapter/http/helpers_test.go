package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meshworks/agentmesh/internal/domain"
)

func TestWriteDomainErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("agent a1: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("template %q: %w", "x", domain.ErrUnknownTemplate), http.StatusNotFound},
		{fmt.Errorf("spawn a1: %w", domain.ErrDuplicateAgent), http.StatusConflict},
		{fmt.Errorf("bad input: %w", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("spawn a1: %w", domain.ErrResourceExhausted), http.StatusTooManyRequests},
		{fmt.Errorf("request: %w", domain.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("dispatch: %w", domain.ErrBrokerUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err, "fallback")
		if rec.Code != tc.want {
			t.Errorf("writeDomainError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
	}
}

func TestWriteDomainErrorTrimsValidationSuffix(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("cpu too high: %w", domain.ErrValidation), "fallback")

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "cpu too high" {
		t.Errorf("Error = %q, want the sentinel suffix trimmed", body.Error)
	}
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	v, ok := readJSON[payload](w, r)
	if !ok || v.Name != "x" {
		t.Fatalf("readJSON = %+v, %v, want decoded payload", v, ok)
	}
}

func TestReadJSONMalformed(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	if _, ok := readJSON[map[string]string](w, r); ok {
		t.Fatal("expected decode failure")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x", nil)

	if got := queryInt(r, "limit", 50); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
	if got := queryInt(r, "missing", 50); got != 50 {
		t.Errorf("missing = %d, want default", got)
	}
	if got := queryInt(r, "bad", 50); got != 50 {
		t.Errorf("bad = %d, want default on parse failure", got)
	}
}
