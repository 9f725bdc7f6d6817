// Package api is a small client for the opencode server REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

// DirectoryHeader scopes a request to one project on the server
const DirectoryHeader = "x-opencode-directory"

var log = internal.Tag("API")

// Client talks to one opencode server
type Client struct {
	baseURL    string
	directory  string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New creates a Client for baseURL. A trailing /global/event is stripped.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    internal.NormalizeBaseURL(baseURL),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EventURL returns the live event stream endpoint
func (c *Client) EventURL() string {
	return c.baseURL + "/global/event"
}

// ForProject returns a copy of c whose requests carry the project directory
func (c *Client) ForProject(p *internal.Project) *Client {
	cp := *c
	cp.directory = p.Path()
	return &cp
}

// Directory returns the project directory requests are scoped to
func (c *Client) Directory() string {
	return c.directory
}

// MessageQuery selects a page of session messages. Before and After are
// message ids; at most one should be set.
type MessageQuery struct {
	Limit  int
	Before string
	After  string
}

// SendRequest is the body of POST /session/{id}/message
type SendRequest struct {
	Text       string
	Agent      string
	ProviderID string
	ModelID    string
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type modelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

type sendBody struct {
	Parts []textPart `json:"parts"`
	Agent string     `json:"agent,omitempty"`
	Model *modelRef  `json:"model,omitempty"`
}

type createBody struct {
	Title string `json:"title,omitempty"`
}

type commandBody struct {
	Command   string `json:"command"`
	Arguments string `json:"arguments"`
}

// Health probes reachability with HEAD {baseUrl}
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Projects lists the projects known to the server
func (c *Client) Projects(ctx context.Context) ([]internal.Project, error) {
	var projects []internal.Project
	if err := c.getJSON(ctx, "/project", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Sessions lists sessions of the current project directory
func (c *Client) Sessions(ctx context.Context) ([]internal.Session, error) {
	var sessions []internal.Session
	if err := c.getJSON(ctx, "/session", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession looks up one session
func (c *Client) GetSession(ctx context.Context, id string) (*internal.Session, error) {
	var s internal.Session
	if err := c.getJSON(ctx, "/session/"+url.PathEscape(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession starts a new session in the current project directory
func (c *Client) CreateSession(ctx context.Context, title string) (*internal.Session, error) {
	payload, err := json.Marshal(createBody{Title: title})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	target := c.baseURL + "/session"
	resp, err := c.do(ctx, http.MethodPost, target, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var s internal.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, &internal.FetchError{Op: "parse", URL: target, Err: err}
	}
	return &s, nil
}

// DeleteSession removes a session and its messages
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/session/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Todos returns the todo list of a session
func (c *Client) Todos(ctx context.Context, sessionID string) ([]classifier.Todo, error) {
	var todos []classifier.Todo
	if err := c.getJSON(ctx, "/session/"+url.PathEscape(sessionID)+"/todo", &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// SessionStatuses returns the busy/idle status of each active session
func (c *Client) SessionStatuses(ctx context.Context) (map[string]internal.SessionStatus, error) {
	statuses := make(map[string]internal.SessionStatus)
	if err := c.getJSON(ctx, "/session/status", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Providers lists model providers and their default models
func (c *Client) Providers(ctx context.Context) (*internal.ProvidersResponse, error) {
	var pr internal.ProvidersResponse
	if err := c.getJSON(ctx, "/config/providers", &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// Messages fetches a page of session history. Items are returned undecoded
// so a malformed entry cannot spoil the page.
func (c *Client) Messages(ctx context.Context, sessionID string, q MessageQuery) ([]json.RawMessage, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	if q.After != "" {
		v.Set("after", q.After)
	}
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	var items []json.RawMessage
	if err := c.getJSON(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SendMessage posts a user prompt to a session
func (c *Client) SendMessage(ctx context.Context, sessionID string, req SendRequest) error {
	body := sendBody{
		Parts: []textPart{{Type: "text", Text: req.Text}},
		Agent: req.Agent,
	}
	if req.ProviderID != "" && req.ModelID != "" {
		body.Model = &modelRef{ProviderID: req.ProviderID, ModelID: req.ModelID}
	}
	return c.postJSON(ctx, "/session/"+url.PathEscape(sessionID)+"/message", body)
}

// SendCommand runs a slash command in a session
func (c *Client) SendCommand(ctx context.Context, sessionID, command string, args []string) error {
	body := commandBody{
		Command:   strings.TrimPrefix(command, "/"),
		Arguments: strings.Join(args, " "),
	}
	return c.postJSON(ctx, "/session/"+url.PathEscape(sessionID)+"/command", body)
}

// ParseCommand splits "/name arg1 arg2" into its name and arguments
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.TrimPrefix(fields[0], "/"), fields[1:]
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	target := c.baseURL + path
	resp, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &internal.FetchError{Op: "parse", URL: target, Err: err}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &internal.FetchError{Op: method, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.directory != "" {
		req.Header.Set(DirectoryHeader, c.directory)
	}

	log.Debug("%s %s", method, target)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &internal.FetchError{Op: method, URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &internal.FetchError{
			Op:     method,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}
	return resp, nil
}
