package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethod_IssuesCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieSecure: true})(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/pools", nil))

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			c := findCookie(w.Result(), csrfCookieName)
			if c == nil {
				t.Fatal("csrf cookie should be issued")
			}
			if len(c.Value) != 64 {
				t.Errorf("token length = %d, want 64", len(c.Value))
			}
			if c.HttpOnly {
				t.Error("csrf cookie must be readable by page scripts")
			}
			if !c.Secure {
				t.Error("csrf cookie should honour CookieSecure")
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethod_KeepsExistingCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if c := findCookie(w.Result(), csrfCookieName); c != nil {
		t.Errorf("existing cookie should not be replaced, got %q", c.Value)
	}
}

func TestCSRFMiddleware_StateChanging(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"matching token", "tok-1", "tok-1", http.StatusOK},
		{"missing cookie", "", "tok-1", http.StatusForbidden},
		{"missing header", "tok-1", "", http.StatusForbidden},
		{"mismatch", "tok-1", "tok-2", http.StatusForbidden},
	}

	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+" "+tt.name, func(t *testing.T) {
				req := httptest.NewRequest(method, "/api/pools/p1/join", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode body: %v", err)
					}
					if body.Code != "CSRF_TOKEN_INVALID" {
						t.Errorf("code = %q", body.Code)
					}
				}
			})
		}
	}
}

func TestCSRFMiddleware_FormField(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())

	form := url.Values{csrfFormField: {"tok-form"}, "name": {"Family plan"}}
	req := httptest.NewRequest(http.MethodPost, "/api/pools", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok-form"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	t.Run("new token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		c := findCookie(w.Result(), csrfCookieName)
		if c == nil || body.Token == "" || c.Value != body.Token {
			t.Errorf("token %q should match issued cookie %+v", body.Token, c)
		}
		if w.Header().Get("Cache-Control") != "no-store" {
			t.Error("token response must not be cached")
		}
	})

	t.Run("existing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "already-there"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var body struct {
			Token string `json:"token"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if body.Token != "already-there" {
			t.Errorf("token = %q, want already-there", body.Token)
		}
	})
}

func TestCSRFTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CSRFTokenFromRequest(req); got != "" {
		t.Errorf("CSRFTokenFromRequest() = %q, want empty", got)
	}
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	if got := CSRFTokenFromRequest(req); got != "abc" {
		t.Errorf("CSRFTokenFromRequest() = %q, want abc", got)
	}
}
