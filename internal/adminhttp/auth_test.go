package adminhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateAcceptsEverythingWithNoTokenConfigured(t *testing.T) {
	s := New(nil, nil, nil, "")
	r := httptest.NewRequest(http.MethodGet, "/status", nil)
	if !s.authenticate(r) {
		t.Fatal("expected an unauthenticated server to accept every request")
	}
}

func TestAuthenticateRequiresMatchingBearerToken(t *testing.T) {
	hash, err := HashAdminToken("correct-token")
	if err != nil {
		t.Fatalf("HashAdminToken: %v", err)
	}
	s := New(nil, nil, nil, hash)

	good := httptest.NewRequest(http.MethodPost, "/submit", nil)
	good.Header.Set("Authorization", "Bearer correct-token")
	if !s.authenticate(good) {
		t.Fatal("expected the correct bearer token to authenticate")
	}

	wrong := httptest.NewRequest(http.MethodPost, "/submit", nil)
	wrong.Header.Set("Authorization", "Bearer wrong-token")
	if s.authenticate(wrong) {
		t.Fatal("expected an incorrect bearer token to be rejected")
	}

	missing := httptest.NewRequest(http.MethodPost, "/submit", nil)
	if s.authenticate(missing) {
		t.Fatal("expected a missing Authorization header to be rejected")
	}

	malformed := httptest.NewRequest(http.MethodPost, "/submit", nil)
	malformed.Header.Set("Authorization", "correct-token")
	if s.authenticate(malformed) {
		t.Fatal("expected a header without the Bearer prefix to be rejected")
	}
}
