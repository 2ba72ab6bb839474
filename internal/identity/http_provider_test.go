package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestProvider(handler http.Handler) (*HTTPProvider, *httptest.Server) {
	server := httptest.NewServer(handler)
	provider := NewHTTPProvider(
		&http.Client{Timeout: 5 * time.Second},
		nil,
		HTTPProviderConfig{
			BaseURL:    server.URL,
			ServiceKey: "test-service-key",
			AdminRate:  100, // テストではほぼ待たない
		},
	)
	return provider, server
}

func TestVerifyCredential_ValidToken(t *testing.T) {
	provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/user")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer valid-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer valid-token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"user-1","email":"buyer@example.com","email_confirmed_at":"2026-07-01T00:00:00Z"}`))
	}))
	defer server.Close()

	user, err := provider.VerifyCredential(context.Background(), "valid-token")
	if err != nil {
		t.Fatalf("VerifyCredential returned error: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("ID = %q, want %q", user.ID, "user-1")
	}
	if user.Email != "buyer@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "buyer@example.com")
	}
	if user.EmailConfirmedAt == nil {
		t.Error("EmailConfirmedAt should be set")
	}
}

// 401/403はErrInvalidCredentialとして返ることを検証する。
// インフラ障害と区別され、ブレーカーの失敗には数えられない。
func TestVerifyCredential_InvalidTokenReturnsSentinel(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := provider.VerifyCredential(context.Background(), "bad-token")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("status %d: err = %v, want ErrInvalidCredential", status, err)
		}
		server.Close()
	}
}

func TestVerifyCredential_ServerErrorIsInfraError(t *testing.T) {
	provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := provider.VerifyCredential(context.Background(), "token")
	if err == nil {
		t.Fatal("5xx should return an error")
	}
	if errors.Is(err, ErrInvalidCredential) {
		t.Error("5xx must not be classified as an invalid credential")
	}
}

func TestVerifyCredential_UnreachableProviderIsInfraError(t *testing.T) {
	provider := NewHTTPProvider(
		&http.Client{Timeout: 500 * time.Millisecond},
		nil,
		HTTPProviderConfig{BaseURL: "http://127.0.0.1:1", ServiceKey: "k"},
	)

	_, err := provider.VerifyCredential(context.Background(), "token")
	if err == nil {
		t.Fatal("unreachable provider should return an error")
	}
	if errors.Is(err, ErrInvalidCredential) {
		t.Error("transport failure must not be classified as an invalid credential")
	}
}

func TestCreateIdentity_SendsServiceKeyAndBody(t *testing.T) {
	provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/users" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/admin/users")
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-service-key" {
			t.Errorf("Authorization = %q, want service key", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"user-2","email":"seller@example.com","email_confirmed_at":null}`))
	}))
	defer server.Close()

	user, err := provider.CreateIdentity(context.Background(), "seller@example.com", "secret", Metadata{"role": "seller"})
	if err != nil {
		t.Fatalf("CreateIdentity returned error: %v", err)
	}
	if user.ID != "user-2" {
		t.Errorf("ID = %q, want %q", user.ID, "user-2")
	}
	if user.EmailConfirmedAt != nil {
		t.Error("EmailConfirmedAt should be nil for null payload")
	}
}

func TestListIdentities_DecodesUsers(t *testing.T) {
	provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[{"id":"u1","email":"a@example.com"},{"id":"u2","email":"b@example.com"}]}`))
	}))
	defer server.Close()

	users, err := provider.ListIdentities(context.Background())
	if err != nil {
		t.Fatalf("ListIdentities returned error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[0].ID != "u1" || users[1].ID != "u2" {
		t.Errorf("users = %v, want u1 and u2", users)
	}
}

func TestVerifyCredential_ContextCancellation(t *testing.T) {
	provider, server := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.VerifyCredential(ctx, "token")
	if err == nil {
		t.Fatal("canceled context should return an error")
	}
}
