package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	alarms "plant-edge/internal/alarms/domain"
	"plant-edge/internal/processing"
	telemetry "plant-edge/internal/telemetry/domain"
)

// tokenTTL bounds the lifetime of a minted bearer token.
const tokenTTL = 5 * time.Minute

// EdgeConfig is the processing configuration and rule set served by
// GET /api/edge-config/{edgeId}.
type EdgeConfig struct {
	Version    int64             `json:"version"`
	Processing processing.Config `json:"processing"`
	Rules      []alarms.Rule     `json:"alarmRules"`
}

// Client talks to the central API. Every response uses the
// {success, data, message} envelope.
type Client struct {
	baseURL string
	edgeID  string
	secret  []byte
	client  *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithAuthSecret enables per-request HS256 bearer tokens.
func WithAuthSecret(secret []byte) Option {
	return func(c *Client) {
		c.secret = secret
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// NewClient constructs a central API client.
func NewClient(baseURL, edgeID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("controlplane: empty base url")
	}
	if edgeID == "" {
		return nil, errors.New("controlplane: empty edge id")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		edgeID:  edgeID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchEdgeConfig loads the processing config and alarm rules.
func (c *Client) FetchEdgeConfig(ctx context.Context) (EdgeConfig, error) {
	var cfg EdgeConfig
	err := c.doJSON(ctx, http.MethodGet, "/api/edge-config/"+c.edgeID, nil, &cfg)
	return cfg, err
}

// FetchTagConfigs loads the per-tag overrides, keyed deviceId:tagId.
func (c *Client) FetchTagConfigs(ctx context.Context) (map[string]processing.TagConfig, error) {
	var tags map[string]processing.TagConfig
	err := c.doJSON(ctx, http.MethodGet, "/api/edge-config/"+c.edgeID+"/tags", nil, &tags)
	return tags, err
}

type uploadRequest struct {
	EdgeID  string            `json:"edgeId"`
	BatchID int64             `json:"batchId"`
	Key     string            `json:"idempotencyKey"`
	Points  []telemetry.Point `json:"points"`
}

// UploadTelemetry posts one outbox batch. The idempotency key lets
// the server dedupe at-least-once redeliveries.
func (c *Client) UploadTelemetry(ctx context.Context, batchID int64, idempotencyKey string, points []telemetry.Point) error {
	req := uploadRequest{
		EdgeID:  c.edgeID,
		BatchID: batchID,
		Key:     idempotencyKey,
		Points:  points,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/telemetry", req, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("controlplane: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		token, err := c.mintToken()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("controlplane: %s %s: status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("controlplane: decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("controlplane: %s %s: %s", method, path, env.Message)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("controlplane: %s %s: empty data", method, path)
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) mintToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": c.edgeID,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("controlplane: sign token: %w", err)
	}
	return signed, nil
}
