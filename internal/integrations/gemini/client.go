package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"marketplace-assistant/internal/domain"
)

// content is one conversational turn in the generateContent wire format.
type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// part is a single content part. Exactly one field is set.
type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	FileData         *fileData         `json:"fileData,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
}

type functionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *schema `json:"parameters,omitempty"`
}

type toolDecl struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionCallingConfig struct {
	Mode string `json:"mode"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

// generateRequest is the minimal request shape for the generateContent endpoint.
type generateRequest struct {
	SystemInstruction *content    `json:"systemInstruction,omitempty"`
	Contents          []content   `json:"contents"`
	Tools             []toolDecl  `json:"tools,omitempty"`
	ToolConfig        *toolConfig `json:"toolConfig,omitempty"`
}

// generateResponse is the minimal response shape returned by generateContent.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the Gemini generateContent API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for API
// key retrieval. The key is fetched from SSM on the first model call and
// reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from SSM on the first call and returns the
// cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-api-key"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	if !strings.HasSuffix(base, "/v1beta") {
		base += "/v1beta"
	}
	return base + "/models/" + model + ":generateContent"
}

// Converse sends a full conversation (system prompt, tool declarations and
// ordered turns) and returns the model's reply, which may carry a tool call.
func (c *Client) Converse(ctx context.Context, req domain.ConverseRequest) (domain.ModelReply, error) {
	if req.Model == "" {
		return domain.ModelReply{}, errors.New("gemini: model must not be empty")
	}

	body := generateRequest{
		Contents: make([]content, 0, len(req.Turns)),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		body.Tools = []toolDecl{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
		body.ToolConfig = &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
	}
	for _, turn := range req.Turns {
		body.Contents = append(body.Contents, turnToContent(turn))
	}

	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		return domain.ModelReply{}, err
	}
	return replyFromResponse(resp)
}

// GenerateText performs a single-shot text generation with no history or tools.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	resp, err := c.generate(ctx, model, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	reply, err := replyFromResponse(resp)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// TranscribeAudio asks the model to process the audio resource at the given
// URI together with the instruction prompt and returns the resulting text.
func (c *Client) TranscribeAudio(ctx context.Context, model, audioURI, prompt string) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	if strings.TrimSpace(audioURI) == "" {
		return "", errors.New("gemini: audio URI must not be empty")
	}
	resp, err := c.generate(ctx, model, generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{FileData: &fileData{MimeType: "audio/mpeg", FileURI: audioURI}},
				{Text: prompt},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	reply, err := replyFromResponse(resp)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (c *Client) generate(ctx context.Context, model string, reqBody generateRequest) (generateResponse, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return generateResponse{}, err
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := generateURL(c.baseURL, model)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if reqErr != nil {
		return generateResponse{}, fmt.Errorf("gemini: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	buf, err := c.doJSONRequest(req, url)
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: request failed: %w", err)
	}

	var payload generateResponse
	if decErr := json.Unmarshal(buf, &payload); decErr != nil {
		return generateResponse{}, fmt.Errorf("gemini: decode response: %w", decErr)
	}
	if len(payload.Candidates) == 0 {
		return generateResponse{}, errors.New("gemini: no candidates in response")
	}
	return payload, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// replyFromResponse flattens the first candidate into a ModelReply. Text parts
// are concatenated; the first function call wins.
func replyFromResponse(resp generateResponse) (domain.ModelReply, error) {
	cand := resp.Candidates[0]
	var reply domain.ModelReply
	var texts []string
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		if p.FunctionCall != nil && reply.ToolCall == nil {
			reply.ToolCall = &domain.ToolCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}
		}
	}
	reply.Text = strings.Join(texts, "")
	if reply.Text == "" && reply.ToolCall == nil {
		return domain.ModelReply{}, errors.New("gemini: candidate has no text or function call")
	}
	return reply, nil
}

func turnToContent(turn domain.ChatTurn) content {
	role := "user"
	if turn.Role == domain.RoleAssistant {
		role = "model"
	}
	switch {
	case turn.ToolCall != nil:
		return content{Role: "model", Parts: []part{{FunctionCall: &functionCall{
			Name: turn.ToolCall.Name,
			Args: turn.ToolCall.Args,
		}}}}
	case turn.ToolResult != nil:
		return content{Role: "user", Parts: []part{{FunctionResponse: &functionResponse{
			Name:     turn.ToolResult.Name,
			Response: map[string]any{"content": turn.ToolResult.Content},
		}}}}
	default:
		return content{Role: role, Parts: []part{{Text: turn.Text}}}
	}
}

func toFunctionDeclarations(decls []domain.ToolDeclaration) []functionDeclaration {
	out := make([]functionDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, functionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toSchema(d.Parameters),
		})
	}
	return out
}

func toSchema(s *domain.Schema) *schema {
	if s == nil {
		return nil
	}
	out := &schema{Type: s.Type, Description: s.Description}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("gemini: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("gemini: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch API key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("gemini: API key is empty")
	}
	return tp.Token, nil
}
