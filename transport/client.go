package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
)

// UserIDHeader identifies the client to the backend.
const UserIDHeader = "X-User-Id"

const maxErrorBody = 64 << 10

// Client is the request/response half of the transport. Every method is a
// single round trip returning the backend's authoritative entity.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userID     string
}

func NewClient(baseURL, userID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListSequences(ctx context.Context) ([]domain.OutreachSequence, error) {
	var out []domain.OutreachSequence
	if err := c.do(ctx, http.MethodGet, "/sequences", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RequestSequence(ctx context.Context, id string) (*domain.OutreachSequence, error) {
	var out domain.OutreachSequence
	if err := c.do(ctx, http.MethodGet, "/sequences/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSequence(ctx context.Context, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
	var out domain.OutreachSequence
	if err := c.do(ctx, http.MethodPost, "/sequences", fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestSequenceUpdate(ctx context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
	var out domain.OutreachSequence
	if err := c.do(ctx, http.MethodPut, "/sequences/"+url.PathEscape(id), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSequence(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sequences/"+url.PathEscape(id), nil, nil)
}

// RequestStepUpdate patches one step; the response is the whole sequence.
func (c *Client) RequestStepUpdate(ctx context.Context, sequenceID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error) {
	path := "/sequences/" + url.PathEscape(sequenceID) + "/steps/" + url.PathEscape(stepID)
	var out domain.OutreachSequence
	if err := c.do(ctx, http.MethodPut, path, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchCurrentSession(ctx context.Context) (*domain.Session, error) {
	var out domain.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/current", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context) (*domain.Session, error) {
	var out domain.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestSessionBootstrap fetches the current session and falls back to
// creating one. It fails only when both calls fail.
func (c *Client) RequestSessionBootstrap(ctx context.Context) (*domain.Session, error) {
	session, fetchErr := c.FetchCurrentSession(ctx)
	if fetchErr == nil {
		return session, nil
	}

	config.Log.Debug("no current session, creating one", zap.Error(fetchErr))

	session, createErr := c.CreateSession(ctx)
	if createErr != nil {
		return nil, &InitializationError{FetchErr: fetchErr, CreateErr: createErr}
	}
	return session, nil
}

// RequestSendMessage persists a message; the response carries the
// server-assigned id and timestamp.
func (c *Client) RequestSendMessage(ctx context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error) {
	var out domain.ConversationEntry
	if err := c.do(ctx, http.MethodPost, "/messages", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestUserProfile(ctx context.Context) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodGet, "/users/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestUserProfileUpdate(ctx context.Context, fields domain.UserPatch) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodPut, "/users/profile", fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(UserIDHeader, c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readServerError(resp, method, path)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func readServerError(resp *http.Response, method, path string) error {
	serr := &ServerError{Method: method, Path: path, StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		serr.Message = payload.Error
	} else {
		serr.Message = strings.TrimSpace(string(data))
	}
	return serr
}
