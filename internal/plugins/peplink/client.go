package peplink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// Router API paths, per the Peplink router API for firmware 8.x.
const (
	tokenGrantPath    = "/api/auth.token.grant"
	wanStatusPath     = "/api/status.wan.connection"
	wanUsagePath      = "/api/status.wan.connection.allowance"
	wanPriorityPath   = "/api/config.wan.connection.priority"
	cellularResetPath = "/api/cmd.cellularModule.reset"
	firmwarePath      = "/api/info.firmware"
)

// tokenSlack refreshes a token this long before the router expires it.
const tokenSlack = time.Minute

// Client talks to one router with token auth. Safe for concurrent use;
// token refresh is serialized.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	log      bridge.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewClient creates a client for a router reachable at baseURL
// (scheme optional, http assumed).
func NewClient(baseURL, username, password string, log bridge.Logger) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if log == nil {
		log = noop{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// ensureToken grants a fresh access token if none is held or the held
// one is expiring.
func (c *Client) ensureToken(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && time.Now().Before(c.expiry.Add(-tokenSlack)) {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+tokenGrantPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("router rejected credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token grant failed: HTTP %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: token response: %v", bridge.ErrDecode, err)
	}
	if envelope.Stat != "ok" {
		return fmt.Errorf("token grant failed: %s", envelope.Message)
	}

	var token tokenResponse
	if err := json.Unmarshal(envelope.Response, &token); err != nil {
		return fmt.Errorf("%w: token response: %v", bridge.ErrDecode, err)
	}
	if token.AccessToken == "" {
		return errors.New("token grant returned no token")
	}

	c.token = token.AccessToken
	c.expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// call performs one authenticated request and unwraps the API
// envelope. An expired session (401) is re-granted once.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	if err := c.ensureToken(ctx, false); err != nil {
		return nil, err
	}

	payload, status, err := c.doOnce(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.log.Info("router session expired, re-authenticating", "path", path)
		if err := c.ensureToken(ctx, true); err != nil {
			return nil, err
		}
		payload, status, err = c.doOnce(ctx, method, path, query, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, errors.New("authentication failed after token refresh")
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s failed: HTTP %d", path, status)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bridge.ErrDecode, path, err)
	}
	if envelope.Stat != "ok" {
		return nil, fmt.Errorf("%s failed: %s", path, envelope.Message)
	}
	return envelope.Response, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, int, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("accessToken", c.currentToken())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method,
		c.baseURL+path+"?"+query.Encode(), reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s response: %w", path, err)
	}
	return payload, resp.StatusCode, nil
}

// WANStatus fetches and decodes connection status for the given ids.
func (c *Client) WANStatus(ctx context.Context, connIDs []int) (map[int]WANConnection, error) {
	ids := make([]string, len(connIDs))
	for i, id := range connIDs {
		ids[i] = strconv.Itoa(id)
	}
	query := url.Values{"id": []string{strings.Join(ids, " ")}}

	response, err := c.call(ctx, http.MethodGet, wanStatusPath, query, nil)
	if err != nil {
		return nil, err
	}
	return DecodeWANStatus(response)
}

// WANUsage fetches and decodes the allowance data for all connections.
func (c *Client) WANUsage(ctx context.Context) (map[int]Usage, error) {
	response, err := c.call(ctx, http.MethodGet, wanUsagePath, nil, nil)
	if err != nil {
		return nil, err
	}
	return DecodeUsage(response)
}

// SetWANPriority sets a connection's failover priority (1 highest).
// Priority 0 disables the connection.
func (c *Client) SetWANPriority(ctx context.Context, connID, priority int) error {
	entry := map[string]any{"connId": connID}
	if priority > 0 {
		entry["priority"] = priority
	} else {
		entry["enable"] = false
	}
	body, err := json.Marshal(map[string]any{
		"instantActive": true,
		"list":          []any{entry},
	})
	if err != nil {
		return err
	}

	_, err = c.call(ctx, http.MethodPost, wanPriorityPath, nil, body)
	return err
}

// ResetCellular power-cycles the cellular module behind a connection.
func (c *Client) ResetCellular(ctx context.Context, connID int) error {
	body, err := json.Marshal(map[string]string{"connId": strconv.Itoa(connID)})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPost, cellularResetPath, nil, body)
	return err
}

// FirmwareVersion returns the active firmware version string.
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	response, err := c.call(ctx, http.MethodGet, firmwarePath, nil, nil)
	if err != nil {
		return "", err
	}

	var entries map[string]struct {
		Version string `json:"version"`
		InUse   bool   `json:"inUse"`
	}
	if err := json.Unmarshal(response, &entries); err != nil {
		return "", fmt.Errorf("%w: firmware info: %v", bridge.ErrDecode, err)
	}
	for _, entry := range entries {
		if entry.InUse {
			return entry.Version, nil
		}
	}
	if entry, ok := entries["1"]; ok && entry.Version != "" {
		return entry.Version, nil
	}
	return "unknown", nil
}
