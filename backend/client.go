// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend is the transport client for the messaging backend:
// an unauthenticated Client holding the base URL and HTTP transport,
// and a per-team Session wrapping it with the team's credentials.
// Every non-2xx response is mapped into the apperr taxonomy, with the
// backend's error label preserved so callers can branch on specific
// recoverable conditions (notably "mls-stale-message").
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/netutil"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the base URL of the backend (e.g.
	// "https://wire.example.com/v1").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is an unauthenticated backend client. It holds the base URL
// and HTTP transport, shared across Sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated backend client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call after a network disruption to force
// fresh TCP connections instead of reusing a poisoned pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// apiError is the backend's error response shape.
type apiError struct {
	Code    int    `json:"code"`
	Label   string `json:"label"`
	Message string `json:"message"`
}

// doRequest performs a JSON request and returns the response body.
// Non-2xx responses come back as *apperr.Error.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("backend: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	contentType := ""
	if requestBody != nil {
		contentType = "application/json"
	}
	q := url.Values(nil)
	if len(query) > 0 {
		q = query[0]
	}
	return c.do(ctx, method, path, accessToken, contentType, bodyReader, q)
}

// doRequestRaw performs a request with a raw body (MLS messages, asset
// bytes).
func (c *Client) doRequestRaw(ctx context.Context, method, path string, accessToken *secret.Buffer, contentType string, body io.Reader) ([]byte, error) {
	return c.do(ctx, method, path, accessToken, contentType, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, accessToken *secret.Buffer, contentType string, body io.Reader, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to create request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != nil {
		// Token converted to string at the header boundary; the heap
		// copy lives only for the duration of the call.
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("backend: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, errorFromResponse(response.StatusCode, responseBody, method, path)
}

// errorFromResponse maps a non-2xx backend response into the apperr
// taxonomy. The backend label rides along on the Error so callers can
// distinguish specific recoverable failures from their status class.
func errorFromResponse(statusCode int, body []byte, method, path string) error {
	var payload apiError
	message := string(body)
	label := ""
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		message = payload.Message
		label = payload.Label
	}

	var kind apperr.Kind
	switch {
	case statusCode == http.StatusUnauthorized:
		kind = apperr.Unauthorized
	case statusCode == http.StatusForbidden:
		kind = apperr.Forbidden
	case statusCode == http.StatusNotFound:
		kind = apperr.EntityNotFound
	case statusCode == http.StatusBadRequest && strings.HasPrefix(label, "missing-"):
		kind = apperr.MissingParameter
	case statusCode == http.StatusBadRequest:
		kind = apperr.InvalidParameter
	case statusCode >= 400 && statusCode < 500:
		kind = apperr.ClientError
	default:
		kind = apperr.ServerError
	}

	return &apperr.Error{
		Kind:       kind,
		Message:    fmt.Sprintf("%s %s: %s", method, path, message),
		Label:      label,
		StatusCode: statusCode,
	}
}
