package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/linkedin-scheduler/configs"
	"github.com/maheshrc27/linkedin-scheduler/internal/api/middleware"
	"github.com/maheshrc27/linkedin-scheduler/internal/generator"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/maheshrc27/linkedin-scheduler/internal/service"
	"github.com/maheshrc27/linkedin-scheduler/internal/transfer"
)

type mockPublisher struct {
	PublishFunc    func(ctx context.Context, userID int64, share service.Share) (string, error)
	EngagementFunc func(ctx context.Context, userID int64, platformPostID string) (*models.EngagementMetrics, error)
}

func (m *mockPublisher) Publish(ctx context.Context, userID int64, share service.Share) (string, error) {
	if m.PublishFunc == nil {
		return "", errors.New("not used")
	}
	return m.PublishFunc(ctx, userID, share)
}

func (m *mockPublisher) EnsureFresh(context.Context, int64, time.Duration) error {
	return nil
}

func (m *mockPublisher) Engagement(ctx context.Context, userID int64, platformPostID string) (*models.EngagementMetrics, error) {
	return m.EngagementFunc(ctx, userID, platformPostID)
}

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, p generator.Params) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, p generator.Params) (string, error) {
	return m.GenerateFunc(ctx, p)
}

type mockMediaService struct {
	got []byte
}

func (m *mockMediaService) UploadImage(_ context.Context, userID int64, data []byte) (*transfer.MediaUploadResponse, error) {
	m.got = data
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: unsupported file type", models.ErrValidation)
	}
	key := fmt.Sprintf("%d/abc.png", userID)
	return &transfer.MediaUploadResponse{URL: "https://cdn.example.com/" + key, Key: key, ContentType: "image/png"}, nil
}

// asUser stands in for the auth middleware; the user id comes from X-User.
func asUser(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Get("X-User"), 10, 64)
	if err != nil {
		id = 1
	}
	c.Locals(middleware.LocalSession, &models.Session{UserID: id})
	return c.Next()
}

type testEnv struct {
	app   *fiber.App
	posts *repository.MemoryScheduledPostRepository
	pub   *mockPublisher
	gen   *mockGenerator
	media *mockMediaService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		posts: repository.NewMemoryScheduledPostRepository(),
		pub: &mockPublisher{EngagementFunc: func(context.Context, int64, string) (*models.EngagementMetrics, error) {
			return &models.EngagementMetrics{Likes: 2, Comments: 1}, nil
		}},
		gen: &mockGenerator{GenerateFunc: func(context.Context, generator.Params) (string, error) {
			return "generated", nil
		}},
		media: &mockMediaService{},
	}

	ps := service.NewPostService(env.posts, env.pub, nil, "Asia/Kolkata")
	post := NewPostHandler(ps, env.gen)
	media := NewMediaHandler(env.media)

	app := fiber.New()
	api := app.Group("/api", asUser)
	api.Post("/posts/generate", post.GeneratePost)
	api.Post("/posts/linkedin", post.PublishNow)
	api.Post("/posts/scheduled", post.CreatePost)
	api.Get("/posts/scheduled", post.ListPosts)
	api.Get("/posts/scheduled/:id", post.GetPost)
	api.Put("/posts/scheduled/:id", post.UpdatePost)
	api.Delete("/posts/scheduled/:id", post.RemovePost)
	api.Get("/posts/scheduled/:id/engagement", post.Engagement)
	api.Post("/media", media.UploadImage)
	env.app = app
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, user int64) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", fmt.Sprint(user))

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestPostHandlers_CreateGetList(t *testing.T) {
	env := newTestEnv()

	resp, body := env.do(t, http.MethodPost, "/api/posts/scheduled", map[string]string{
		"content":            "Hello LinkedIn",
		"scheduled_datetime": "2025-06-01T09:00",
	}, 1)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created transfer.PostResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ScheduledDatetime != "2025-06-01T03:30:00Z" || created.Status != models.PostStatusPending {
		t.Errorf("created = %+v", created)
	}

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/scheduled/%d", created.ID), nil, 1)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("get status = %d: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/scheduled/%d", created.ID), nil, 2)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("get by other user status = %d, want 404", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/posts/scheduled", nil, 1)
	var list []transfer.PostResponse
	if err := json.Unmarshal(body, &list); err != nil || resp.StatusCode != fiber.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %s", resp.StatusCode, body)
	}
}

func TestPostHandlers_CreateValidation(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad timezone", map[string]string{"content": "x", "scheduled_datetime": "2025-06-01T09:00", "timezone": "Mars/Base"}},
		{"bad datetime", map[string]string{"content": "x", "scheduled_datetime": "soon"}},
		{"empty content", map[string]string{"content": "", "scheduled_datetime": "2025-06-01T09:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/posts/scheduled", tt.body, 1)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", resp.StatusCode, body)
			}
			var e map[string]string
			if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
				t.Errorf("error body = %s", body)
			}
		})
	}
}

func TestPostHandlers_UpdateAndRemove(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	id, _ := env.posts.Create(ctx, &models.ScheduledPost{UserID: 1, Content: "x", Timezone: "UTC", ScheduledAt: time.Now().Add(-time.Minute)})
	_ = env.posts.MarkFailed(ctx, id, "Status: 500 - oops")

	resp, body := env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/scheduled/%d", id), map[string]string{"status": "pending"}, 1)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	var updated transfer.PostResponse
	_ = json.Unmarshal(body, &updated)
	if updated.Status != models.PostStatusPending || updated.ErrorMessage != "" {
		t.Errorf("updated = %+v", updated)
	}

	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/scheduled/%d", id), map[string]string{"content": "not mine"}, 2)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("edit by other user status = %d, want 409", resp.StatusCode)
	}

	_ = env.posts.MarkPublished(ctx, id, "urn:li:share:1")
	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/scheduled/%d", id), map[string]string{"content": "late edit"}, 1)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("edit published status = %d, want 409", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/scheduled/%d", id), nil, 2)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("delete by other user status = %d, want 404", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/scheduled/%d", id), nil, 1)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/posts/scheduled/abc", nil, 1)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("non-numeric id status = %d, want 404", resp.StatusCode)
	}
}

func TestPostHandlers_Engagement(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, _ := env.posts.Create(ctx, &models.ScheduledPost{UserID: 1, Content: "x", Timezone: "UTC", ScheduledAt: time.Now()})

	resp, _ := env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/scheduled/%d/engagement", id), nil, 1)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("pending post status = %d, want 409", resp.StatusCode)
	}

	_ = env.posts.MarkPublished(ctx, id, "urn:li:share:9")
	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/scheduled/%d/engagement", id), nil, 1)
	var got transfer.EngagementResponse
	_ = json.Unmarshal(body, &got)
	if resp.StatusCode != fiber.StatusOK || got.Likes != 2 || got.Comments != 1 {
		t.Errorf("engagement = %d %s", resp.StatusCode, body)
	}

	env.pub.EngagementFunc = func(context.Context, int64, string) (*models.EngagementMetrics, error) {
		return nil, models.ErrNotConnected
	}
	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/scheduled/%d/engagement", id), nil, 1)
	if resp.StatusCode != fiber.StatusPreconditionFailed {
		t.Errorf("not connected status = %d, want 412", resp.StatusCode)
	}
}

func TestPostHandlers_PublishNow(t *testing.T) {
	env := newTestEnv()
	env.pub.PublishFunc = func(_ context.Context, userID int64, s service.Share) (string, error) {
		if s.Content == "reject me" {
			return "", &models.PublishError{StatusCode: 422, Message: `{"message":"duplicate"}`}
		}
		return "urn:li:share:77", nil
	}

	resp, body := env.do(t, http.MethodPost, "/api/posts/linkedin", map[string]string{"content": "Right now"}, 1)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("publish now status = %d: %s", resp.StatusCode, body)
	}
	var post transfer.PostResponse
	_ = json.Unmarshal(body, &post)
	if post.Status != models.PostStatusPublished || post.LinkedInPostID != "urn:li:share:77" || post.PublishedAt == "" {
		t.Errorf("post = %+v", post)
	}

	resp, body = env.do(t, http.MethodPost, "/api/posts/linkedin", map[string]string{"content": "reject me"}, 1)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Errorf("rejected publish status = %d, want 502: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/posts/linkedin", map[string]string{"content": ""}, 1)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", resp.StatusCode)
	}

	posts, _ := env.posts.ListByUserID(context.Background(), 1)
	if len(posts) != 2 {
		t.Fatalf("stored posts = %d, want 2", len(posts))
	}
	for _, p := range posts {
		if p.Status == models.PostStatusPending {
			t.Errorf("post %d left pending", p.ID)
		}
	}
}

func TestPostHandlers_Generate(t *testing.T) {
	env := newTestEnv()

	var got generator.Params
	env.gen.GenerateFunc = func(_ context.Context, p generator.Params) (string, error) {
		got = p
		return "🚀 Post body", nil
	}
	resp, body := env.do(t, http.MethodPost, "/api/posts/generate", map[string]string{"topic": "Go", "tone": "casual"}, 1)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out transfer.GeneratePostResponse
	_ = json.Unmarshal(body, &out)
	if out.Post != "🚀 Post body" || got.Topic != "Go" || got.Tone != "casual" {
		t.Errorf("out = %+v, params = %+v", out, got)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/posts/generate", map[string]string{}, 1)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing topic status = %d", resp.StatusCode)
	}

	env.gen.GenerateFunc = func(context.Context, generator.Params) (string, error) {
		return "", generator.ErrNoContent
	}
	resp, _ = env.do(t, http.MethodPost, "/api/posts/generate", map[string]string{"topic": "Go"}, 1)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Errorf("generator failure status = %d, want 502", resp.StatusCode)
	}
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "image.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User", "5")
	return req
}

func TestMediaHandler_Upload(t *testing.T) {
	env := newTestEnv()

	resp, err := env.app.Test(multipartRequest(t, "file", []byte{0x89, 'P', 'N', 'G', 0x0d}))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out transfer.MediaUploadResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Key != "5/abc.png" || len(env.media.got) != 5 {
		t.Errorf("out = %+v, stored %d bytes", out, len(env.media.got))
	}

	resp, _ = env.app.Test(multipartRequest(t, "file", []byte{1}))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("invalid image status = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.app.Test(multipartRequest(t, "other", []byte{1, 2, 3, 4}))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", resp.StatusCode)
	}
}

type mockAccountService struct {
	callbackErr error
	status      *transfer.LinkedInStatusResponse
	removed     int64
}

func (m *mockAccountService) AuthURL(state string) (string, error) {
	if state != "good" {
		return "", models.ErrValidation
	}
	return "https://www.linkedin.com/oauth/v2/authorization?state=good", nil
}

func (m *mockAccountService) Callback(context.Context, string, string) (int64, error) {
	return 1, m.callbackErr
}

func (m *mockAccountService) Status(context.Context, int64) (*transfer.LinkedInStatusResponse, error) {
	return m.status, nil
}

func (m *mockAccountService) Disconnect(_ context.Context, userID int64) error {
	m.removed = userID
	return nil
}

func TestPlatformHandler(t *testing.T) {
	as := &mockAccountService{status: &transfer.LinkedInStatusResponse{Connected: true, MemberURN: "urn:li:person:a"}}
	h := NewPlatformHandler(as, config.Config{FrontendURL: "http://localhost:5173"})

	app := fiber.New()
	app.Get("/auth/linkedin", h.AddLinkedInAccount)
	app.Get("/auth/linkedin/callback", h.CallbackHandler)
	app.Get("/api/linkedin", asUser, h.LinkedInStatus)
	app.Delete("/api/linkedin", asUser, h.DisconnectLinkedIn)

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp
	}

	resp := get("/auth/linkedin?state=good")
	if resp.StatusCode != fiber.StatusTemporaryRedirect || resp.Header.Get("Location") == "" {
		t.Errorf("auth redirect = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp := get("/auth/linkedin?state=bad"); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad state status = %d", resp.StatusCode)
	}

	resp = get("/auth/linkedin/callback?code=c&state=good")
	if resp.StatusCode != fiber.StatusTemporaryRedirect || resp.Header.Get("Location") != "http://localhost:5173/dashboard/accounts" {
		t.Errorf("callback = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp := get("/auth/linkedin/callback?state=good"); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing code status = %d", resp.StatusCode)
	}
	as.callbackErr = models.ErrValidation
	if resp := get("/auth/linkedin/callback?code=c&state=bad"); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("callback with bad state status = %d", resp.StatusCode)
	}

	resp = get("/api/linkedin")
	var status transfer.LinkedInStatusResponse
	_ = json.NewDecoder(resp.Body).Decode(&status)
	if !status.Connected || status.MemberURN != "urn:li:person:a" {
		t.Errorf("status = %+v", status)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/linkedin", nil)
	req.Header.Set("X-User", "3")
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusNoContent || as.removed != 3 {
		t.Errorf("disconnect = %d, removed %d", resp.StatusCode, as.removed)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", models.ErrInvalidTimezone), fiber.StatusBadRequest},
		{models.ErrInvalidDateTime, fiber.StatusBadRequest},
		{models.ErrValidation, fiber.StatusBadRequest},
		{models.ErrNotFound, fiber.StatusNotFound},
		{models.ErrConflict, fiber.StatusConflict},
		{models.ErrInvalidState, fiber.StatusConflict},
		{models.ErrNotConnected, fiber.StatusPreconditionFailed},
		{fmt.Errorf("%w: %w", models.ErrCredentialExpired, errors.New("invalid_grant")), fiber.StatusPreconditionFailed},
		{&models.PublishError{StatusCode: 500, Message: "x"}, fiber.StatusBadGateway},
		{generator.ErrNoContent, fiber.StatusBadGateway},
		{errors.New("disk full"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ErrorStatus(tt.err); got != tt.want {
			t.Errorf("ErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
