package lis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testEndpoint(baseURL string) *Endpoint {
	return &Endpoint{
		Name:           "Central Lab",
		Active:         true,
		BaseURL:        baseURL,
		EndpointCode:   "LAB1",
		AuthType:       AuthAPIKey,
		APIKey:         "secret",
		TimeoutSeconds: 5,
		VerifySSL:      true,
	}
}

func TestClientPushRequest(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"ok":true,"request":{"request_no":"REQ-7"}}}`))
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL + "/"))
	resp, err := c.PushRequest(context.Background(), map[string]interface{}{"patient_name": "Alice"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if gotPath != "/lab/api/v1/LAB1/requests" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotBody["jsonrpc"] != "2.0" || gotBody["method"] != "call" {
		t.Fatalf("envelope = %#v", gotBody)
	}
	params := gotBody["params"].(map[string]interface{})
	if params["patient_name"] != "Alice" {
		t.Fatalf("params = %#v", params)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("result not unwrapped: %#v", resp)
	}
	if requestNumber(resp) != "REQ-7" {
		t.Fatalf("request number = %q", requestNumber(resp))
	}
}

func TestClientAuthHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := testEndpoint(srv.URL)
	e.AuthType = AuthBearer
	e.BearerToken = "tok123"
	if _, err := NewClient(e).PushRequest(context.Background(), nil); err != nil {
		t.Fatalf("bearer push: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("bearer header = %q", gotAuth)
	}

	e = testEndpoint(srv.URL)
	e.AuthType = AuthBasic
	e.Username = "lab"
	e.Password = "pw"
	if _, err := NewClient(e).PushRequest(context.Background(), nil); err != nil {
		t.Fatalf("basic push: %v", err)
	}
	// base64("lab:pw")
	if gotAuth != "Basic bGFiOnB3" {
		t.Fatalf("basic header = %q", gotAuth)
	}
}

func TestClientMissingCredentials(t *testing.T) {
	e := testEndpoint("https://lab.example.com")
	e.APIKey = ""
	_, err := NewClient(e).PushRequest(context.Background(), nil)
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(testEndpoint(srv.URL)).PushRequest(context.Background(), nil)
	var ext *ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
	if !strings.Contains(ext.Detail, "HTTP error 502") {
		t.Fatalf("detail = %q", ext.Detail)
	}
}

func TestClientInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(testEndpoint(srv.URL)).PushRequest(context.Background(), nil)
	var ext *ExternalServiceError
	if !errors.As(err, &ext) || !strings.Contains(ext.Detail, "invalid JSON") {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("metadata fetch method = %s, want GET", r.Method)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "meta/services"):
			w.Write([]byte(`{"ok":true,"services":[
				{"code":"CBC","name":"Blood Count","sample_type":"blood","is_default":true},
				{"code":"GLU","name":"Glucose"}]}`))
		case strings.HasSuffix(r.URL.Path, "meta/profiles"):
			w.Write([]byte(`{"ok":false,"error":"profiles unavailable"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL))
	rows, err := c.FetchMeta(context.Background(), ItemService)
	if err != nil {
		t.Fatalf("fetch services: %v", err)
	}
	if len(rows) != 2 || rows[0].Code != "CBC" || !rows[0].IsDefault || rows[0].SampleType != "blood" {
		t.Fatalf("rows = %#v", rows)
	}

	_, err = c.FetchMeta(context.Background(), ItemProfile)
	if err == nil || !strings.Contains(err.Error(), "profiles unavailable") {
		t.Fatalf("expected envelope error, got %v", err)
	}
}
