package resp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"voteboard/internal/pkg/errs"
)

func serve(h http.HandlerFunc) (*httptest.ResponseRecorder, Envelope) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/votes", nil)
	middleware.RequestID(h).ServeHTTP(w, r)

	var env Envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestRespondSuccess(t *testing.T) {
	w, env := serve(func(w http.ResponseWriter, r *http.Request) {
		RespondSuccess(w, r, map[string]int{"count": 3})
	})

	if w.Code != http.StatusOK || env.Code != 0 || env.Message != "success" {
		t.Fatalf("status = %d, envelope = %+v", w.Code, env)
	}
	if env.RequestID == "" {
		t.Error("request id missing from envelope")
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestRespondError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"custom", errs.NewError(errs.ErrUnauthorized), http.StatusUnauthorized, errs.ErrUnauthorized},
		{"wrapped custom", fmt.Errorf("admin: %w", errs.NewError(errs.ErrRateLimitExceeded)), http.StatusTooManyRequests, errs.ErrRateLimitExceeded},
		{"plain", errors.New("boom"), http.StatusInternalServerError, errs.ErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := serve(func(w http.ResponseWriter, r *http.Request) {
				RespondError(w, r, tc.err)
			})

			if w.Code != tc.wantStatus || env.Code != tc.wantCode {
				t.Errorf("status = %d, code = %d; want %d, %d", w.Code, env.Code, tc.wantStatus, tc.wantCode)
			}
			if env.Message == "boom" {
				t.Error("cause leaked to the client")
			}
		})
	}
}
