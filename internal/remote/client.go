// Package remote is the HTTP client of the Fira API server. Every response
// uses the envelope {"success": bool, "error": string, ...}. Transport
// failures are reported as types.ErrUnavailable so callers can fall back to
// another source.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// RequestIDHeader carries a per-request id for server-side log correlation.
const RequestIDHeader = "X-Request-ID"

// Envelope is the common response body.
type Envelope struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
	Projects []types.Project `json:"projects,omitempty"`
	Project  *types.Project  `json:"project,omitempty"`
	Tasks    []types.Task    `json:"tasks,omitempty"`
	Task     *types.Task     `json:"task,omitempty"`
	Path     string          `json:"path,omitempty"`
}

// Status is the payload of GET /api/status.
type Status struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Version     string `json:"version"`
	ProjectsDir string `json:"projects_dir"`
}

// ProjectInput is the body of POST /api/projects.
type ProjectInput struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// DirectoryInput is the body of POST /api/create-directory.
type DirectoryInput struct {
	ProjectID string `json:"project_id"`
	ParentDir string `json:"parent_dir"`
	DirName   string `json:"dir_name"`
}

// Client talks to one API server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Status probes the server. Any failure is types.ErrUnavailable.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	if st.Status != "ok" {
		return nil, fmt.Errorf("%w: server status %q", types.ErrUnavailable, st.Status)
	}
	return &st, nil
}

// Projects lists every project.
func (c *Client) Projects(ctx context.Context) ([]types.Project, error) {
	env, err := c.call(ctx, http.MethodGet, "/api/projects", nil)
	if err != nil {
		return nil, err
	}
	return env.Projects, nil
}

// ProjectTasks lists the tasks of one project.
func (c *Client) ProjectTasks(ctx context.Context, projectID string) ([]types.Task, error) {
	env, err := c.call(ctx, http.MethodGet, projectPath(projectID)+"/tasks", nil)
	if err != nil {
		return nil, err
	}
	for i := range env.Tasks {
		if env.Tasks[i].ProjectID == "" {
			env.Tasks[i].ProjectID = projectID
		}
	}
	return env.Tasks, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, projectID, taskID string) (*types.Task, error) {
	env, err := c.call(ctx, http.MethodGet, taskPath(projectID, taskID), nil)
	if err != nil {
		return nil, err
	}
	if env.Task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	return env.Task, nil
}

// CreateProject creates a project and returns it as stored.
func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (*types.Project, error) {
	env, err := c.call(ctx, http.MethodPost, "/api/projects", in)
	if err != nil {
		return nil, err
	}
	if env.Project != nil {
		return env.Project, nil
	}
	name := in.Name
	if name == "" {
		name = in.ID
	}
	return &types.Project{ID: in.ID, Name: name, Description: in.Description}, nil
}

// UpdateProject patches a project's mutable fields.
func (c *Client) UpdateProject(ctx context.Context, projectID string, patch types.ProjectPatch) error {
	_, err := c.call(ctx, http.MethodPut, projectPath(projectID), patch)
	return err
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	_, err := c.call(ctx, http.MethodDelete, projectPath(projectID), nil)
	return err
}

// CreateTask creates a task record.
func (c *Client) CreateTask(ctx context.Context, projectID string, task types.Task) (*types.Task, error) {
	env, err := c.call(ctx, http.MethodPost, projectPath(projectID)+"/tasks", task)
	if err != nil {
		return nil, err
	}
	return taskOrEcho(env, task), nil
}

// UpdateTask replaces a task record.
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, task types.Task) (*types.Task, error) {
	task.ID = taskID
	env, err := c.call(ctx, http.MethodPut, taskPath(projectID, taskID), task)
	if err != nil {
		return nil, err
	}
	return taskOrEcho(env, task), nil
}

// DeleteTask removes a task record.
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	_, err := c.call(ctx, http.MethodDelete, taskPath(projectID, taskID), nil)
	return err
}

// CreateDirectory creates an owner directory inside a stage.
func (c *Client) CreateDirectory(ctx context.Context, projectID string, stage types.Stage, owner string) error {
	_, err := c.call(ctx, http.MethodPost, "/api/create-directory", DirectoryInput{
		ProjectID: projectID,
		ParentDir: string(stage),
		DirName:   owner,
	})
	return err
}

// SaveCacheFile stores a snapshot on the server.
func (c *Client) SaveCacheFile(ctx context.Context, snap types.Snapshot) error {
	_, err := c.call(ctx, http.MethodPost, "/api/save-cache", snap)
	return err
}

// GetCacheFile returns the raw server-hosted snapshot document.
func (c *Client) GetCacheFile(ctx context.Context) ([]byte, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/cache", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func taskOrEcho(env *Envelope, sent types.Task) *types.Task {
	if env.Task != nil {
		return env.Task
	}
	return &sent
}

func projectPath(projectID string) string {
	return "/api/projects/" + url.PathEscape(projectID)
}

func taskPath(projectID, taskID string) string {
	return projectPath(projectID) + "/tasks/" + url.PathEscape(taskID)
}

// call performs a request and decodes the envelope. A success=false
// envelope becomes an error carrying the server message.
func (c *Client) call(ctx context.Context, method, path string, body any) (*Envelope, error) {
	var env Envelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return nil, &APIError{Status: http.StatusOK, Message: msg}
	}
	return &env, nil
}

// APIError is a non-success answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Is maps HTTP statuses onto the package sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case types.ErrNotFound:
		return e.Status == http.StatusNotFound
	case types.ErrAlreadyExists:
		return e.Status == http.StatusConflict
	case types.ErrInvalidID, types.ErrInvalidStage:
		return e.Status == http.StatusBadRequest
	case types.ErrUnavailable:
		return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusBadGateway
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w: %v", method, path, types.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("latency", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w: reading body: %v", method, path, types.ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		var env Envelope
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// IsUnavailable reports whether err means the server could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, types.ErrUnavailable)
}
