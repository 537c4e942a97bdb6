package service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/maheshrc27/linkedin-scheduler/configs"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeLinkedIn stands in for the LinkedIn OAuth and REST endpoints.
type fakeLinkedIn struct {
	t      *testing.T
	server *httptest.Server

	refreshCalls atomic.Int32
	publishCalls atomic.Int32

	mu            sync.Mutex
	lastAuth      string
	lastPayload   map[string]interface{}
	lastRefresh   string
	tokenStatus   int
	tokenBody     string
	tokenDelay    time.Duration
	publishStatus int
	publishBody   string
	publishHeader map[string]string
	publishDelay  time.Duration
	socialStatus  int
	socialBody    string
	userInfoBody  string
}

func newFakeLinkedIn(t *testing.T) *fakeLinkedIn {
	t.Helper()
	f := &fakeLinkedIn{
		t:             t,
		tokenStatus:   http.StatusOK,
		tokenBody:     `{"access_token":"new-access","expires_in":3600,"refresh_token":"new-refresh"}`,
		publishStatus: http.StatusCreated,
		publishBody:   `{"id":"urn:li:share:1001"}`,
		socialStatus:  http.StatusOK,
		socialBody:    `{"likesSummary":{"aggregatedTotalLikes":12},"commentsSummary":{"aggregatedTotalComments":3}}`,
		userInfoBody:  `{"sub":"abc123","name":"Test User","email":"t@example.com"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/accessToken", f.handleToken)
	mux.HandleFunc("/v2/ugcPosts", f.handlePublish)
	mux.HandleFunc("/v2/socialActions/", f.handleSocial)
	mux.HandleFunc("/v2/userinfo", f.handleUserInfo)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLinkedIn) config() config.LinkedIn {
	return config.LinkedIn{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:3000/auth/linkedin/callback",
		APIBaseURL:   f.server.URL + "/v2",
		AuthURL:      f.server.URL + "/oauth/v2/authorization",
		TokenURL:     f.server.URL + "/oauth/v2/accessToken",
		Timeout:      2 * time.Second,
	}
}

func (f *fakeLinkedIn) service() LinkedInService {
	return NewLinkedInService(f.config(), nil)
}

func (f *fakeLinkedIn) set(fn func(f *fakeLinkedIn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeLinkedIn) handleToken(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if r.Form.Get("grant_type") == "refresh_token" {
		f.lastRefresh = r.Form.Get("refresh_token")
	}
	status, body, delay := f.tokenStatus, f.tokenBody, f.tokenDelay
	f.mu.Unlock()

	if r.Form.Get("client_id") != "client-id" || r.Form.Get("client_secret") != "client-secret" {
		http.Error(w, "client credentials missing from body", http.StatusUnauthorized)
		return
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeLinkedIn) handlePublish(w http.ResponseWriter, r *http.Request) {
	f.publishCalls.Add(1)

	var payload map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	f.mu.Lock()
	f.lastAuth = r.Header.Get("Authorization")
	f.lastPayload = payload
	status, body, headers, delay := f.publishStatus, f.publishBody, f.publishHeader, f.publishDelay
	f.mu.Unlock()

	if r.Header.Get("X-Restli-Protocol-Version") != "2.0.0" {
		http.Error(w, "missing restli header", http.StatusBadRequest)
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeLinkedIn) handleSocial(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status, body := f.socialStatus, f.socialBody
	f.mu.Unlock()

	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeLinkedIn) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	body := f.userInfoBody
	f.mu.Unlock()

	if r.Header.Get("Authorization") == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	io.WriteString(w, body)
}
