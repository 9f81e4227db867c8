package outpost

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// Config describes one outpost node endpoint.
type Config struct {
	Name           string
	BaseURL        string
	Username       string
	Password       string
	AttemptTimeout time.Duration
	Policy         RetryPolicy
}

// Client is a typed facade over one outpost's REST surface, composing the
// Session and the Executor. Safe for concurrent use.
type Client struct {
	name    string
	baseURL string
	exec    *Executor
	session *Session
	logger  *zap.Logger
}

// NewClient creates a client for one node. Call Login before invoking
// protected operations.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	exec := NewExecutor(cfg.Policy, cfg.AttemptTimeout)
	return &Client{
		name:    cfg.Name,
		baseURL: baseURL,
		exec:    exec,
		session: NewSession(baseURL, exec),
		logger:  util.GetLogger(),
	}
}

// Name returns the configured outpost name.
func (c *Client) Name() string {
	return c.name
}

// Session exposes the authentication session so that concurrent callers
// targeting the same node share one token.
func (c *Client) Session() *Session {
	return c.session
}

// Login authenticates against the node and caches the bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (bool, error) {
	return c.session.Authenticate(ctx, username, password)
}

// Logout discards the token and cached credentials.
func (c *Client) Logout() {
	c.session.Clear()
	c.logger.Info("Logged out", zap.String("outpost", c.name))
}

// authorize attaches the bearer token when a valid one is held. Calls proceed
// unauthenticated otherwise; the remote node makes the authorization decision.
func (c *Client) authorize(req *http.Request) {
	if token, ok := c.session.CurrentToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
}

// do executes one request with at most one transparent re-authentication when
// the node rejects the token and credentials are cached.
func (c *Client) do(ctx context.Context, req Request, out interface{}) error {
	resp, err := c.exec.Do(ctx, req, c.authorize)
	if err != nil && IsAuth(err) && c.session.HasCredentials() {
		ok, authErr := c.session.Reauthenticate(ctx)
		if authErr != nil {
			// However the re-auth path fails, the call failed to
			// authenticate; it must not look retryable to callers.
			return &APIError{Class: ClassAuth, Message: fmt.Sprintf("re-authentication failed: %v", authErr), Err: authErr}
		}
		if !ok {
			return err
		}
		resp, err = c.exec.Do(ctx, req, c.authorize)
	}
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}

// probePolicy makes health and status checks single-shot. Fleet polling runs
// on its own cadence; stacking retries under it only delays the next poll.
var probePolicy = RetryPolicy{}

// Health checks the node's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, Request{
		Method:     http.MethodGet,
		URL:        c.baseURL + "/health",
		Idempotent: true,
		Policy:     &probePolicy,
	}, nil)
}

// Status retrieves the node's status summary.
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	var status models.StatusResponse
	err := c.do(ctx, Request{
		Method:     http.MethodGet,
		URL:        c.baseURL + "/status",
		Idempotent: true,
		Policy:     &probePolicy,
	}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ListInventory retrieves inventory items, optionally filtered by category.
func (c *Client) ListInventory(ctx context.Context, category string) ([]models.InventoryItem, error) {
	var query url.Values
	if category != "" {
		query = url.Values{"category": []string{category}}
	}

	var items []models.InventoryItem
	err := c.do(ctx, Request{
		Method:     http.MethodGet,
		URL:        c.baseURL + "/inventory",
		Query:      query,
		Idempotent: true,
	}, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetInventoryItem retrieves a single item by its node-local ID.
func (c *Client) GetInventoryItem(ctx context.Context, itemID int64) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := c.do(ctx, Request{
		Method:     http.MethodGet,
		URL:        fmt.Sprintf("%s/inventory/%d", c.baseURL, itemID),
		Idempotent: true,
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateInventoryItem inserts a new item. Create is not idempotent-safe, so
// the executor makes a single attempt regardless of the retry policy.
func (c *Client) CreateInventoryItem(ctx context.Context, create models.InventoryItemCreate) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := c.do(ctx, Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/inventory",
		Body:   create,
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateInventoryItem applies a partial update to an existing item.
func (c *Client) UpdateInventoryItem(ctx context.Context, itemID int64, update models.InventoryItemUpdate) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := c.do(ctx, Request{
		Method:     http.MethodPut,
		URL:        fmt.Sprintf("%s/inventory/%d", c.baseURL, itemID),
		Body:       update,
		Idempotent: true,
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteInventoryItem removes an item by its node-local ID.
func (c *Client) DeleteInventoryItem(ctx context.Context, itemID int64) error {
	return c.do(ctx, Request{
		Method:     http.MethodDelete,
		URL:        fmt.Sprintf("%s/inventory/%d", c.baseURL, itemID),
		Idempotent: true,
	}, nil)
}

// ExportInventory produces a snapshot envelope of the node's inventory.
func (c *Client) ExportInventory(ctx context.Context) (*models.ExportEnvelope, error) {
	var envelope models.ExportEnvelope
	err := c.do(ctx, Request{
		Method:     http.MethodPost,
		URL:        c.baseURL + "/sync/export-inventory",
		Idempotent: true,
	}, &envelope)
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

// importRequest is the bulk import payload: the envelope plus the strategy.
type importRequest struct {
	models.ExportEnvelope
	MergeStrategy models.MergeStrategy `json:"merge_strategy"`
}

// importResponse wraps the statistics returned by a bulk import.
type importResponse struct {
	Statistics models.SyncStatistics `json:"statistics"`
}

// ImportInventory sends the envelope to the node's bulk import endpoint.
// Merge replays double-increment quantities, so the call is never retried.
// Nodes without a bulk endpoint answer 404; callers fall back to per-item
// operations.
func (c *Client) ImportInventory(ctx context.Context, envelope *models.ExportEnvelope, strategy models.MergeStrategy) (*models.SyncStatistics, error) {
	var resp importResponse
	err := c.do(ctx, Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/sync/import-inventory",
		Body:   importRequest{ExportEnvelope: *envelope, MergeStrategy: strategy},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Statistics, nil
}
