package lis

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeoutSeconds applies when an endpoint leaves the timeout unset.
const DefaultTimeoutSeconds = 20

const apiBasePath = "/lab/api/v1/"

// ConfigurationError reports an endpoint or mapping that cannot be used
// as stored.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

func configErrorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError reports a failed exchange with the lab system.
type ExternalServiceError struct {
	Detail string
}

func (e *ExternalServiceError) Error() string { return e.Detail }

func externalErrorf(format string, args ...interface{}) *ExternalServiceError {
	return &ExternalServiceError{Detail: fmt.Sprintf(format, args...)}
}

// MetaRow is one catalog entry as the lab system reports it.
type MetaRow struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	SampleType string `json:"sample_type"`
	IsDefault  bool   `json:"is_default"`
}

// Client speaks the lab system's JSON-RPC-over-HTTP dialect for one
// endpoint.
type Client struct {
	endpoint *Endpoint
	http     *http.Client
	now      func() time.Time
}

// NewClient builds a client honoring the endpoint's timeout and TLS
// verification settings.
func NewClient(e *Endpoint) *Client {
	timeout := e.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	transport := http.DefaultTransport
	if !e.VerifySSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		endpoint: e,
		http: &http.Client{
			Timeout:   time.Duration(timeout) * time.Second,
			Transport: transport,
		},
		now: time.Now,
	}
}

func (c *Client) baseURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.endpoint.BaseURL), "/")
	code := strings.TrimSpace(c.endpoint.EndpointCode)
	if base == "" || code == "" {
		return "", configErrorf("endpoint '%s' is missing its base URL or code", c.endpoint.Name)
	}
	return base + apiBasePath + code, nil
}

func (c *Client) headers(req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch c.endpoint.AuthType {
	case AuthNone, "":
	case AuthAPIKey:
		if c.endpoint.APIKey == "" {
			return configErrorf("endpoint '%s' uses API key auth but has no key", c.endpoint.Name)
		}
		req.Header.Set("X-API-Key", c.endpoint.APIKey)
	case AuthBearer:
		if c.endpoint.BearerToken == "" {
			return configErrorf("endpoint '%s' uses bearer auth but has no token", c.endpoint.Name)
		}
		req.Header.Set("Authorization", "Bearer "+c.endpoint.BearerToken)
	case AuthBasic:
		if c.endpoint.Username == "" || c.endpoint.Password == "" {
			return configErrorf("endpoint '%s' uses basic auth but is missing credentials", c.endpoint.Name)
		}
		cred := base64.StdEncoding.EncodeToString([]byte(c.endpoint.Username + ":" + c.endpoint.Password))
		req.Header.Set("Authorization", "Basic "+cred)
	default:
		return configErrorf("endpoint '%s' has unknown auth type '%s'", c.endpoint.Name, c.endpoint.AuthType)
	}
	return nil
}

// call posts a JSON-RPC envelope to path and returns the decoded
// result object. A top-level "result" member, when present, is
// unwrapped.
func (c *Client) call(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "call",
		"params":  payload,
		"id":      c.now().UnixMilli(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// get fetches path with a plain GET and returns the decoded object.
// The lab's metadata routes are GET resources, not JSON-RPC methods.
func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]interface{}, error) {
	if err := c.headers(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, externalErrorf("LIS API unreachable: %s", truncate(err.Error(), 500))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, externalErrorf("LIS API read error: %s", truncate(err.Error(), 500))
	}
	if resp.StatusCode >= 400 {
		return nil, externalErrorf("LIS API HTTP error %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, externalErrorf("LIS API returned invalid JSON: %s", truncate(string(raw), 500))
	}
	if obj, ok := decoded.(map[string]interface{}); ok {
		if result, present := obj["result"]; present {
			decoded = result
		} else {
			return obj, nil
		}
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, externalErrorf("LIS API returned an unexpected payload")
	}
	return obj, nil
}

// PushRequest submits one assembled request payload.
func (c *Client) PushRequest(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.call(ctx, "requests", payload)
}

var metaPaths = map[string]string{
	ItemSampleType: "meta/sample_types",
	ItemService:    "meta/services",
	ItemProfile:    "meta/profiles",
}

var metaKeys = map[string]string{
	ItemSampleType: "sample_types",
	ItemService:    "services",
	ItemProfile:    "profiles",
}

// FetchMeta retrieves the catalog for one item type.
func (c *Client) FetchMeta(ctx context.Context, itemType string) ([]MetaRow, error) {
	path, ok := metaPaths[itemType]
	if !ok {
		return nil, configErrorf("unknown metadata type '%s'", itemType)
	}
	result, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if ok, _ := result["ok"].(bool); !ok {
		detail, _ := result["error"].(string)
		if detail == "" {
			detail = "unknown error"
		}
		return nil, externalErrorf("%s", detail)
	}

	items, _ := result[metaKeys[itemType]].([]interface{})
	rows := make([]MetaRow, 0, len(items))
	for _, raw := range items {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		var row MetaRow
		row.Code, _ = obj["code"].(string)
		row.Name, _ = obj["name"].(string)
		row.SampleType, _ = obj["sample_type"].(string)
		row.IsDefault, _ = obj["is_default"].(bool)
		rows = append(rows, row)
	}
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
