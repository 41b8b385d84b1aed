package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-assistant/internal/domain"
)

// ---------------------------------------------------------------------------
// generateURL helper
// ---------------------------------------------------------------------------

func TestGenerateURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://generativelanguage.googleapis.com/v1beta", "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro-001:generateContent"},
		{"https://generativelanguage.googleapis.com/v1beta/", "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro-001:generateContent"},
		{"http://localhost:8080", "http://localhost:8080/v1beta/models/gemini-1.5-pro-001:generateContent"},
		{"", "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro-001:generateContent"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, generateURL(tc.base, "gemini-1.5-pro-001"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient and API key resolution
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/marketplace-assistant")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestResolveAPIKey_FetchedOnceAndCached(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"gk-from-ssm"}`}
	g.onCall = func() { calls++ }

	c, err := NewClient(g, "/marketplace-assistant")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gk-from-ssm", key)
	key, err = c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gk-from-ssm", key)
	require.Equal(t, 1, calls)
}

func TestFetchAPIKey_MissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/marketplace-assistant/gemini-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/marketplace-assistant/gemini-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/marketplace-assistant/gemini-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestTokenParameterName(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/marketplace-assistant/")
	require.NoError(t, err)
	require.Equal(t, "/marketplace-assistant/gemini-api-key", c.tokenParameterName())
}

// ---------------------------------------------------------------------------
// Converse
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"gk-test"}`},
		"/marketplace-assistant",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func textResponse(text string) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` + jsonString(text) + `}]},"finishReason":"STOP"}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func converseReq(turns ...domain.ChatTurn) domain.ConverseRequest {
	return domain.ConverseRequest{
		Model:        "gemini-test",
		SystemPrompt: "You are the marketplace assistant.",
		Tools: []domain.ToolDeclaration{{
			Name:        "get_service_provider",
			Description: "Get service providers based on the tags",
			Parameters: &domain.Schema{
				Type: "object",
				Properties: map[string]*domain.Schema{
					"tag": {Type: "string"},
				},
			},
		}},
		Turns: turns,
	}
}

func TestConverse_TextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"systemInstruction"`)
		require.Contains(t, string(body), `"functionDeclarations"`)
		require.Contains(t, string(body), `"mode":"AUTO"`)
		require.Contains(t, string(body), `"text":"Find a plumber nearby"`)

		w.WriteHeader(200)
		_, _ = w.Write([]byte(textResponse("How about Jane's Plumbing?")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reply, err := c.Converse(context.Background(), converseReq(
		domain.ChatTurn{Role: domain.RoleUser, Text: "Find a plumber nearby"},
	))
	require.NoError(t, err)
	require.Equal(t, "How about Jane's Plumbing?", reply.Text)
	require.Nil(t, reply.ToolCall)
}

func TestConverse_FunctionCallReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"get_service_provider","args":{"tag":"plumbing"}}}
		]}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reply, err := c.Converse(context.Background(), converseReq(
		domain.ChatTurn{Role: domain.RoleUser, Text: "Find a plumber nearby"},
	))
	require.NoError(t, err)
	require.NotNil(t, reply.ToolCall)
	require.Equal(t, "get_service_provider", reply.ToolCall.Name)
	require.Equal(t, "plumbing", reply.ToolCall.Args["tag"])
}

func TestConverse_SerializesToolExchangeTurns(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(textResponse("done")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Converse(context.Background(), converseReq(
		domain.ChatTurn{Role: domain.RoleUser, Text: "Find a plumber nearby"},
		domain.ChatTurn{Role: domain.RoleAssistant, ToolCall: &domain.ToolCall{
			Name: "get_service_provider", Args: map[string]any{"tag": "plumbing"},
		}},
		domain.ChatTurn{Role: domain.RoleUser, ToolResult: &domain.ToolResult{
			Name: "get_service_provider", Content: []string{"Jane's Plumbing"},
		}},
	))
	require.NoError(t, err)

	require.Len(t, got.Contents, 3)
	require.Equal(t, "user", got.Contents[0].Role)
	require.Equal(t, "model", got.Contents[1].Role)
	require.NotNil(t, got.Contents[1].Parts[0].FunctionCall)
	require.Equal(t, "user", got.Contents[2].Role)
	require.NotNil(t, got.Contents[2].Parts[0].FunctionResponse)
	require.Equal(t, "get_service_provider", got.Contents[2].Parts[0].FunctionResponse.Name)
	require.Contains(t, got.Contents[2].Parts[0].FunctionResponse.Response, "content")
}

func TestConverse_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"gk-test"}`}, "/marketplace-assistant")
	require.NoError(t, err)
	_, err = c.Converse(context.Background(), domain.ConverseRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestConverse_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Converse(context.Background(), converseReq(domain.ChatTurn{Role: domain.RoleUser, Text: "hi"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "400")
}

func TestConverse_429ExposesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Converse(context.Background(), converseReq(domain.ChatTurn{Role: domain.RoleUser, Text: "hi"}))
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 429, statusErr.HTTPStatusCode())
}

func TestConverse_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Converse(context.Background(), converseReq(domain.ChatTurn{Role: domain.RoleUser, Text: "hi"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no candidates")
}

func TestConverse_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Converse(context.Background(), converseReq(domain.ChatTurn{Role: domain.RoleUser, Text: "hi"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

// ---------------------------------------------------------------------------
// GenerateText / TranscribeAudio
// ---------------------------------------------------------------------------

func TestGenerateText_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"text":"Translate the following text: hola to the language en"`)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(textResponse("hello")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.GenerateText(context.Background(), "gemini-test", "Translate the following text: hola to the language en")
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestTranscribeAudio_SendsFileDataPart(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(textResponse("transcript text")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.TranscribeAudio(context.Background(), "gemini-test", "gs://bucket/audio.mp3", "Transcribe this audio.")
	require.NoError(t, err)
	require.Equal(t, "transcript text", out)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	require.NotNil(t, got.Contents[0].Parts[0].FileData)
	require.Equal(t, "audio/mpeg", got.Contents[0].Parts[0].FileData.MimeType)
	require.Equal(t, "gs://bucket/audio.mp3", got.Contents[0].Parts[0].FileData.FileURI)
	require.Equal(t, "Transcribe this audio.", got.Contents[0].Parts[1].Text)
}

func TestTranscribeAudio_EmptyURI(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"gk-test"}`}, "/marketplace-assistant")
	require.NoError(t, err)
	_, err = c.TranscribeAudio(context.Background(), "gemini-test", " ", "Transcribe this audio.")
	require.Error(t, err)
	require.Contains(t, err.Error(), "audio URI")
}

func TestConverse_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(textResponse("late")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Converse(context.Background(), converseReq(domain.ChatTurn{Role: domain.RoleUser, Text: "hi"}))
	require.Error(t, err)
}
