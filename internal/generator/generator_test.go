package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/maheshrc27/linkedin-scheduler/configs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, prompt string) (string, error)
}

func (p *funcProvider) Name() string { return p.name }

func (p *funcProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.calls.Add(1)
	return p.fn(ctx, prompt)
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &funcProvider{name: "first", fn: func(context.Context, string) (string, error) {
		return "", errors.New("503")
	}}
	second := &funcProvider{name: "second", fn: func(context.Context, string) (string, error) {
		return "🚀 Shipping beats polishing.\n\n#Go", nil
	}}
	third := &funcProvider{name: "third", fn: func(context.Context, string) (string, error) {
		return "unused", nil
	}}

	chain := NewChain(time.Second, discardLogger(), first, second, third)
	got, err := chain.Generate(context.Background(), Params{Topic: "shipping"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "🚀 Shipping beats polishing.\n\n#Go" {
		t.Errorf("got %q", got)
	}
	if third.calls.Load() != 0 {
		t.Error("provider after the first success was called")
	}
}

func TestChain_PerProviderTimeout(t *testing.T) {
	slow := &funcProvider{name: "slow", fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	fast := &funcProvider{name: "fast", fn: func(context.Context, string) (string, error) {
		return "fast answer", nil
	}}

	chain := NewChain(50*time.Millisecond, discardLogger(), slow, fast)
	start := time.Now()
	got, err := chain.Generate(context.Background(), Params{Topic: "latency"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "fast answer" {
		t.Errorf("got %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v, slow provider was not cut off", elapsed)
	}
}

func TestChain_AllFail(t *testing.T) {
	empty := &funcProvider{name: "empty", fn: func(context.Context, string) (string, error) {
		return "   \n<p></p>\n", nil
	}}
	broken := &funcProvider{name: "broken", fn: func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	}}

	chain := NewChain(time.Second, discardLogger(), empty, broken)
	if _, err := chain.Generate(context.Background(), Params{Topic: "x"}); !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}

	if _, err := NewChain(time.Second, discardLogger()).Generate(context.Background(), Params{Topic: "x"}); !errors.Is(err, ErrNoContent) {
		t.Errorf("empty chain err = %v, want ErrNoContent", err)
	}
}

func TestChain_RequiresTopic(t *testing.T) {
	p := &funcProvider{name: "p", fn: func(context.Context, string) (string, error) { return "x", nil }}
	chain := NewChain(time.Second, discardLogger(), p)
	if _, err := chain.Generate(context.Background(), Params{Topic: "  "}); !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v", err)
	}
	if p.calls.Load() != 0 {
		t.Error("provider called without a topic")
	}
}

func TestChain_CleanStripsMarkupAndPreamble(t *testing.T) {
	raw := "Here is your LinkedIn post:\n\n<b>Big news</b> from R&amp;D <script>alert(1)</script>\n\n\n\nWhat do you think?\n#News  "
	p := &funcProvider{name: "p", fn: func(context.Context, string) (string, error) { return raw, nil }}

	got, err := NewChain(time.Second, discardLogger(), p).Generate(context.Background(), Params{Topic: "news"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "Big news from R&D\n\nWhat do you think?\n#News"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(Params{Topic: "remote work", Tone: "Casual", Audience: "engineers", URL: "https://example.com/a"})
	for _, want := range []string{
		"for engineers",
		"a friendly, conversational tone",
		`"remote work"`,
		"https://example.com/a",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	if !strings.Contains(BuildPrompt(Params{Topic: "x", Tone: "sarcastic"}), "professional tone") {
		t.Error("unknown tone did not fall back to professional")
	}
}

func TestChatClient_Generate(t *testing.T) {
	var got chatRequest
	var auth, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Hello LinkedIn"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouter(srv.URL+"/api/v1/", "key-1", "some/model", srv.Client())
	text, err := c.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hello LinkedIn" {
		t.Errorf("text = %q", text)
	}
	if auth != "Bearer key-1" || title == "" {
		t.Errorf("headers auth=%q title=%q", auth, title)
	}
	if got.Model != "some/model" || len(got.Messages) != 1 || got.Messages[0].Content != "prompt text" {
		t.Errorf("request = %+v", got)
	}
}

func TestChatClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	_, err := NewTogether(srv.URL, "k", "m", srv.Client()).Generate(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "slow down") {
		t.Errorf("err = %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if n := NewFromConfig(config.Generator{Timeout: time.Second}, logger).Len(); n != 0 {
		t.Errorf("providers without keys = %d", n)
	}
	chain := NewFromConfig(config.Generator{OpenRouterAPIKey: "a", TogetherAPIKey: "b", Timeout: time.Second}, logger)
	if chain.Len() != 2 || chain.providers[0].Name() != "openrouter" {
		t.Errorf("providers = %v", chain.providers)
	}

	chain = NewFromConfig(config.Generator{OpenRouterAPIKey: "a", TogetherAPIKey: "b", HuggingFaceAPIKey: "c", Timeout: time.Second}, logger)
	var names []string
	for _, p := range chain.providers {
		names = append(names, p.Name())
	}
	if strings.Join(names, ",") != "openrouter,together,huggingface" {
		t.Errorf("provider order = %v", names)
	}
}
