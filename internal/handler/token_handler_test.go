package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/user"
)

func TestIssueToken(t *testing.T) {
	expires := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	var gotUser, gotEmail string
	issuer := &mockTokenIssuer{
		issueFn: func(userID, email string) (string, time.Time, error) {
			gotUser, gotEmail = userID, email
			return "signed-token", expires, nil
		},
	}
	h := NewTokenHandler(issuer, &mockUserService{}, discardLogger())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/auth", nil), "user-1")
	w := httptest.NewRecorder()
	h.IssueToken(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUser != "user-1" || gotEmail != "user-1@example.com" {
		t.Errorf("Issue called with (%q, %q)", gotUser, gotEmail)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	var body tokenResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Token != "signed-token" || !body.ExpiresAt.Equal(expires) {
		t.Errorf("body = %+v", body)
	}
}

func TestIssueToken_RequiresSession(t *testing.T) {
	h := NewTokenHandler(&mockTokenIssuer{}, &mockUserService{}, discardLogger())

	w := httptest.NewRecorder()
	h.IssueToken(w, httptest.NewRequest(http.MethodGet, "/api/auth", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIssueToken_DeletedUser(t *testing.T) {
	users := &mockUserService{
		profileFn: func(ctx context.Context, userID string) (*user.Profile, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewTokenHandler(&mockTokenIssuer{}, users, discardLogger())

	w := httptest.NewRecorder()
	h.IssueToken(w, withUser(httptest.NewRequest(http.MethodGet, "/api/auth", nil), "gone"))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q", body.Code)
	}
}

func TestIssueToken_SigningFailure(t *testing.T) {
	issuer := &mockTokenIssuer{
		issueFn: func(userID, email string) (string, time.Time, error) {
			return "", time.Time{}, errors.New("no key")
		},
	}
	h := NewTokenHandler(issuer, &mockUserService{}, discardLogger())

	w := httptest.NewRecorder()
	h.IssueToken(w, withUser(httptest.NewRequest(http.MethodGet, "/api/auth", nil), "user-1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
