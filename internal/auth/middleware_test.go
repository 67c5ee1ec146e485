package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ada:chat_user|admin, k2:grace:chat_user|chat_user")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if validator.Len() != 2 {
		t.Fatalf("Len() = %d", validator.Len())
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "ada" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if !identity.HasRole(RoleChatUser) || !identity.HasRole("admin") {
		t.Fatalf("Roles = %v", identity.Roles)
	}

	identity, _ = validator.Validate(context.Background(), "k2")
	if len(identity.Roles) != 1 {
		t.Fatalf("Roles = %v, want deduplicated", identity.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "nope"); ok {
		t.Fatal("unknown key must not validate")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, raw := range []string{"invalid", "k1::chat_user", "k1:ada:", "k1:ada:chat_user,k1:grace:chat_user"} {
		if _, err := NewStaticAPIKeyValidator(raw); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected error", raw)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ada:chat_user")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rr.Body.String(), "missing API key") {
		t.Fatalf("body = %s", rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "invalid API key") {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ada:chat_user")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Subject != "ada" {
			t.Fatalf("Subject = %q", identity.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []struct{ name, value string }{
		{"X-API-Key", "k1"},
		{"Authorization", "Bearer k1"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
		req.Header.Set(header.name, header.value)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d", header.name, rr.Code)
		}
	}
}
