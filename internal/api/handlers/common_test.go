package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/errors"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid target", errors.NewInvalidTarget("", "empty"), http.StatusBadRequest},
		{"invalid ports", errors.NewInvalidPortSpec("x", "bad"), http.StatusBadRequest},
		{"validation", errors.ErrConfigInvalid("page", -1), http.StatusBadRequest},
		{"cancelled", errors.NewCancelled("h", 1, 2, context.Canceled), http.StatusConflict},
		{"conflict", errors.NewConfigFieldError(errors.CodeConflict, "exists", "name", "a"), http.StatusConflict},
		{"not found", errors.ErrNotFound("get report"), http.StatusNotFound},
		{"unavailable", errNoStore, http.StatusServiceUnavailable},
		{"db down", errors.NewStoreError(errors.CodeDatabaseConnection, "down"), http.StatusServiceUnavailable},
		{"timeout", errors.NewStoreError(errors.CodeTimeout, "slow"), http.StatusGatewayTimeout},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		query   string
		want    PaginationParams
		wantErr bool
	}{
		{"", PaginationParams{Page: 1, PageSize: 50, Offset: 0}, false},
		{"page=2&page_size=25", PaginationParams{Page: 2, PageSize: 25, Offset: 25}, false},
		{"page=0&page_size=-3", PaginationParams{Page: 1, PageSize: 50, Offset: 0}, false},
		{"page_size=10000", PaginationParams{Page: 1, PageSize: 500, Offset: 0}, false},
		{"page=x", PaginationParams{}, true},
		{"page_size=1.5", PaginationParams{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/probes?"+tt.query, nil)
			got, err := getPaginationParams(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
		var p payload
		require.NoError(t, parseJSON(r, &p))
		assert.Equal(t, "a", p.Name)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var p payload
		err := parseJSON(r, &p)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
		var p payload
		err := parseJSON(r, &p)
		assert.True(t, errors.IsValidation(err))
		assert.Contains(t, err.Error(), "invalid JSON")
	})

	t.Run("body too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
		r.Body = http.MaxBytesReader(w, r.Body, 16)
		var p payload
		err := parseJSON(r, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request body too large")
	})
}

func TestWriteError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	t.Run("coded", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, r, http.StatusNotFound, errors.ErrNotFound("get report"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		resp := decodeError(t, w)
		assert.Equal(t, "Not Found", resp.Error)
		assert.Equal(t, errors.CodeNotFound, resp.Code)
	})

	t.Run("uncoded", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, r, http.StatusInternalServerError, stderrors.New("boom"))

		assert.NotContains(t, w.Body.String(), `"code"`)
		assert.Equal(t, "boom", decodeError(t, w).Message)
	})
}
