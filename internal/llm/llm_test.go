package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

func TestExtractJSONPlain(t *testing.T) {
	raw, ok := ExtractJSON(`{"key": "value", "num": 42}`)
	if !ok {
		t.Fatal("expected JSON to be found")
	}
	if raw != `{"key": "value", "num": 42}` {
		t.Errorf("unexpected extraction %q", raw)
	}
}

func TestExtractJSONWithCodeFence(t *testing.T) {
	var out struct{ Key string }
	if err := DecodeJSON("```json\n{\"key\": \"value\"}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Key != "value" {
		t.Errorf("expected key='value', got %q", out.Key)
	}
}

func TestExtractJSONWithPlainFence(t *testing.T) {
	var out struct{ Key string }
	if err := DecodeJSON("```\n{\"key\": \"value\"}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Key != "value" {
		t.Errorf("expected key='value', got %q", out.Key)
	}
}

func TestExtractJSONInProse(t *testing.T) {
	text := `Sure! Here is the plan {as requested}:
{"subtopics": [{"title": "A {braced} title"}]}
Let me know if you need anything else.`
	var out struct {
		Subtopics []struct{ Title string } `json:"subtopics"`
	}
	if err := DecodeJSON(text, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out.Subtopics) != 1 || out.Subtopics[0].Title != "A {braced} title" {
		t.Errorf("unexpected decode: %+v", out)
	}
}

func TestExtractJSONSkipsMarkerArrays(t *testing.T) {
	text := "As shown in [1] and [2, 3]:\n{\"report\": \"done [1]\"}"
	raw, ok := ExtractJSON(text)
	if !ok || raw != `{"report": "done [1]"}` {
		t.Errorf("ExtractJSON = %q, %v", raw, ok)
	}

	// A lone marker array still extracts when nothing else parses.
	if raw, ok := ExtractJSON("see [4]"); !ok || raw != "[4]" {
		t.Errorf("ExtractJSON = %q, %v", raw, ok)
	}
}

func TestDecodeJSONPicksShapeThatFits(t *testing.T) {
	text := `Two blocks: {"items": ["a"]} and ["x", "yy", "zzzzzzzzzzzzzzzzzzzzzzzzzzzz"]`
	var obj struct{ Items []string }
	if err := DecodeJSON(text, &obj); err != nil || len(obj.Items) != 1 {
		t.Errorf("DecodeJSON object = %+v, %v", obj, err)
	}
	var list []string
	if err := DecodeJSON(text, &list); err != nil || len(list) != 3 {
		t.Errorf("DecodeJSON list = %v, %v", list, err)
	}
}

func TestExtractJSONRepairsTrailingComma(t *testing.T) {
	var out struct{ Items []string }
	if err := DecodeJSON("{“items”: [\"a\", \"b\",],}", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out.Items) != 2 {
		t.Errorf("expected 2 items, got %v", out.Items)
	}
}

func TestExtractJSONInvalid(t *testing.T) {
	if _, ok := ExtractJSON("not json at all"); ok {
		t.Error("expected no JSON for plain prose")
	}
	if err := DecodeJSON("", &struct{}{}); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	if err := StatusError("x", 429, []byte(`{"error":{"code":"insufficient_quota"}}`)); !IsQuota(err) {
		t.Errorf("expected quota error, got %T", err)
	}
	if err := StatusError("x", 429, []byte("slow down")); !IsRetryable(err) {
		t.Errorf("expected transport error for plain 429, got %T", err)
	}
	if err := StatusError("x", 503, nil); !IsRetryable(err) {
		t.Errorf("expected transport error for 503, got %T", err)
	}
	var fe *FatalAgentError
	if err := StatusError("x", 401, []byte("bad key")); !errors.As(err, &fe) {
		t.Errorf("expected fatal error for 401, got %T", err)
	}
}

func TestClassifyPassesCancellationThrough(t *testing.T) {
	err := Classify("x", context.Canceled)
	if !errors.Is(err, context.Canceled) || IsRetryable(err) {
		t.Errorf("expected bare cancellation, got %v", err)
	}
	if err := Classify("x", context.DeadlineExceeded); !IsRetryable(err) {
		t.Errorf("expected deadline to be retryable, got %v", err)
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL, client: srv.Client()}
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected 'hello', got %q", out)
	}
}

func TestOpenAIProviderQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL, client: srv.Client()}
	_, err := p.Generate(context.Background(), "hi", 10)
	if !IsQuota(err) {
		t.Errorf("expected quota error, got %v", err)
	}
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen", srv.URL)
	_, err := p.Generate(context.Background(), "hi", 10)
	if !IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
}

type fakeModel struct {
	reply string
	err   error
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainProvider(t *testing.T) {
	p := NewLangChainProvider(&fakeModel{reply: "ok"}, "fake/model")
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil || out != "ok" {
		t.Fatalf("expected ok, got %q (%v)", out, err)
	}

	p = NewLangChainProvider(&fakeModel{err: errors.New("API returned unexpected status code: 401: invalid api key")}, "fake/model")
	_, err = p.Generate(context.Background(), "hi", 10)
	var fe *FatalAgentError
	if !errors.As(err, &fe) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "fake/model") {
		t.Errorf("expected provider name in error, got %q", err.Error())
	}
}
