package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protectedHandler(t *testing.T, called *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestBasicAuthMiddleware_AcceptsValidCredentials(t *testing.T) {
	var called bool
	handler := BasicAuthMiddleware("worker", "secret")(protectedHandler(t, &called))

	req := httptest.NewRequest(http.MethodGet, "/internal/receipts/unspent", nil)
	req.SetBasicAuth("worker", "secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !called {
		t.Fatal("expected the protected handler to run")
	}
}

func TestBasicAuthMiddleware_RejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{
			name:  "missing credentials",
			setup: func(r *http.Request) {},
		},
		{
			name:  "wrong password",
			setup: func(r *http.Request) { r.SetBasicAuth("worker", "wrong") },
		},
		{
			name:  "wrong username",
			setup: func(r *http.Request) { r.SetBasicAuth("intruder", "secret") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := BasicAuthMiddleware("worker", "secret")(protectedHandler(t, &called))

			req := httptest.NewRequest(http.MethodGet, "/internal/receipts/unspent", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if called {
				t.Fatal("expected the protected handler not to run")
			}
		})
	}
}

func TestBasicAuthMiddleware_FailsClosedWithoutServerCredentials(t *testing.T) {
	var called bool
	handler := BasicAuthMiddleware("", "")(protectedHandler(t, &called))

	req := httptest.NewRequest(http.MethodGet, "/internal/receipts/unspent", nil)
	req.SetBasicAuth("worker", "secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if called {
		t.Fatal("expected the protected handler not to run")
	}
}
