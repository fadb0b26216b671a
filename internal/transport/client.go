package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/storesync/internal/record"
)

// DefaultTimeout bounds every request when no WithTimeout option is given.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept as the message.
const maxErrorBody = 512

// Client talks to the central authority's REST API.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the given base URL (e.g. "https://hq.example.com/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ping checks that the central authority is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health/", nil, nil, nil)
}

// Create uploads a new record.
func (c *Client) Create(ctx context.Context, entityType string, payload map[string]any) error {
	return c.do(ctx, "create "+entityType, http.MethodPost, collectionPath(entityType), nil, payload, nil)
}

// Update replaces a record remotely.
func (c *Client) Update(ctx context.Context, entityType, id string, payload map[string]any) error {
	return c.do(ctx, "update "+entityType, http.MethodPut, itemPath(entityType, id), nil, payload, nil)
}

// Delete removes a record remotely. A 404 answer counts as success.
func (c *Client) Delete(ctx context.Context, entityType, id string) error {
	err := c.do(ctx, "delete "+entityType, http.MethodDelete, itemPath(entityType, id), nil, nil, nil)
	var te *Error
	if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// FetchModifiedSince lists remote records of entityType modified after since.
// A zero since fetches everything; a non-positive limit omits the bound.
func (c *Client) FetchModifiedSince(ctx context.Context, entityType string, since time.Time, limit int) ([]map[string]any, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("modified_since", record.FormatTime(since))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var docs listResponse
	if err := c.do(ctx, "fetch "+entityType, http.MethodGet, collectionPath(entityType), q, nil, &docs); err != nil {
		return nil, err
	}
	return docs.items(), nil
}

// MasterDataVersion is the central catalog version.
type MasterDataVersion struct {
	Version     string
	LastUpdated time.Time
}

// MasterDataVersion returns the current master-data version.
func (c *Client) MasterDataVersion(ctx context.Context) (MasterDataVersion, error) {
	var raw struct {
		Version     any    `json:"version"`
		LastUpdated string `json:"lastUpdated"`
	}
	if err := c.do(ctx, "master data version", http.MethodGet, "/master-data/version/", nil, nil, &raw); err != nil {
		return MasterDataVersion{}, err
	}

	var v MasterDataVersion
	switch ver := raw.Version.(type) {
	case string:
		v.Version = ver
	case float64:
		v.Version = strconv.FormatFloat(ver, 'f', -1, 64)
	}
	if raw.LastUpdated != "" {
		t, err := record.ParseTime(raw.LastUpdated)
		if err != nil {
			return MasterDataVersion{}, &Error{Kind: KindRejected, Op: "master data version", Err: err}
		}
		v.LastUpdated = t
	}
	return v, nil
}

// FetchMasterData returns one page of a master-data category.
func (c *Client) FetchMasterData(ctx context.Context, category string, includeInactive bool, limit, offset int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("include_inactive", strconv.FormatBool(includeInactive))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var docs listResponse
	path := "/" + url.PathEscape(category) + "/master-data/"
	if err := c.do(ctx, "fetch master data "+category, http.MethodGet, path, q, nil, &docs); err != nil {
		return nil, err
	}
	return docs.items(), nil
}

// StoreDataset is one store's raw operational data as held centrally.
type StoreDataset struct {
	StoreID      string          `json:"storeId"`
	StoreName    string          `json:"storeName"`
	Transactions []Transaction   `json:"transactions"`
	Inventory    []InventoryLine `json:"inventory"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// Transaction is a completed (or voided) sale.
type Transaction struct {
	ID        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// InventoryLine is the stock position of one product at a store.
type InventoryLine struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unitCost"`
	ReorderLevel decimal.Decimal `json:"reorderLevel"`
}

// FetchStoreData returns the consolidated dataset for one store.
func (c *Client) FetchStoreData(ctx context.Context, storeID string) (StoreDataset, error) {
	var ds StoreDataset
	path := "/stores/" + url.PathEscape(storeID) + "/consolidated-data/"
	if err := c.do(ctx, "fetch store "+storeID, http.MethodGet, path, nil, nil, &ds); err != nil {
		return StoreDataset{}, err
	}
	if ds.StoreID == "" {
		ds.StoreID = storeID
	}
	return ds, nil
}

// do performs one request under the client timeout. When out is non-nil the
// 2xx response body is decoded into it.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("marshal body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Kind: KindRejected, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "method", method, "path", path, "error", err)
		return transientError(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transientError(op, ctx.Err())
		}
		return &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// listResponse accepts either a bare JSON array or a {"results": [...]} envelope.
// Numbers are decoded with record.DecodeValue so large integer ids stay exact.
type listResponse struct {
	docs []map[string]any
}

func (l *listResponse) UnmarshalJSON(data []byte) error {
	v, err := record.DecodeValue(data)
	if err != nil {
		return err
	}
	var raw []any
	switch val := v.(type) {
	case nil:
	case []any:
		raw = val
	case map[string]any:
		results, ok := val["results"].([]any)
		if !ok && val["results"] != nil {
			return fmt.Errorf("list response: results is %T, want an array", val["results"])
		}
		raw = results
	default:
		return fmt.Errorf("list response: unexpected %T", v)
	}

	l.docs = make([]map[string]any, 0, len(raw))
	for _, elem := range raw {
		doc, ok := elem.(map[string]any)
		if !ok {
			return fmt.Errorf("list response: item is %T, want an object", elem)
		}
		l.docs = append(l.docs, doc)
	}
	return nil
}

func (l listResponse) items() []map[string]any {
	if l.docs == nil {
		return []map[string]any{}
	}
	return l.docs
}

func collectionPath(entityType string) string {
	return "/" + url.PathEscape(entityType) + "s/"
}

func itemPath(entityType, id string) string {
	return collectionPath(entityType) + url.PathEscape(id) + "/"
}
