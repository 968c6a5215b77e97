package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protected(token string) http.Handler {
	return BearerToken(token)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer ops-7f3a", http.StatusNoContent},
		{"no header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic b3BzOjdmM2E=", http.StatusUnauthorized},
		{"lowercase scheme", "bearer ops-7f3a", http.StatusUnauthorized},
		{"bare token", "ops-7f3a", http.StatusUnauthorized},
		{"wrong token", "Bearer ops-0000", http.StatusUnauthorized},
		{"token prefix", "Bearer ops", http.StatusUnauthorized},
		{"token with suffix", "Bearer ops-7f3a-x", http.StatusUnauthorized},
		{"empty credential", "Bearer ", http.StatusUnauthorized},
	}

	h := protected("ops-7f3a")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/malfunctions", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestBearerToken_RejectionShape(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	protected("tok").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
	if got := rec.Body.String(); got != `{"error":"missing or malformed authorization header"}` {
		t.Errorf("body = %q", got)
	}
}

func TestBearerToken_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	var gotPath string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/alerts", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	BearerToken("tok")(inner).ServeHTTP(rec, req)

	if gotPath != "/api/alerts" {
		t.Errorf("inner path = %q, want /api/alerts", gotPath)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}
