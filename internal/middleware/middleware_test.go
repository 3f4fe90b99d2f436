package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func router(cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	Register(r, cfg, zap.NewNop())
	ok := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestIDFrom(r.Context())))
	}
	r.HandleFunc("/", ok)
	r.HandleFunc("/health", ok)
	r.HandleFunc("/documents", ok).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	return r
}

func TestAuth(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Token: "s3cret"}, Server: config.ServerConfig{CORSOrigins: []string{"*"}}}
	r := router(cfg)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public root", "/", "", http.StatusOK},
		{"public health", "/health", "", http.StatusOK},
		{"missing token", "/documents", "", http.StatusUnauthorized},
		{"wrong token", "/documents", "Bearer nope", http.StatusUnauthorized},
		{"bearer token", "/documents", "Bearer s3cret", http.StatusOK},
		{"query token", "/documents?token=s3cret", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	r := router(&config.Config{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	r := router(&config.Config{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	id := rec.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	r := router(&config.Config{Server: config.ServerConfig{CORSOrigins: []string{"https://app.example"}}})

	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverer(t *testing.T) {
	r := router(&config.Config{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
