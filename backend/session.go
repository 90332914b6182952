// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// Session is an authenticated per-team view of the backend. It holds
// the team's access token in protected memory; the token can be
// swapped by the refresh flow without rebuilding the session. Safe for
// concurrent use.
type Session struct {
	client   *Client
	clientID ref.ClientID

	// mu guards accessToken. Held shared for the duration of each
	// request, so a token swap waits for in-flight calls.
	mu          sync.RWMutex
	accessToken *secret.Buffer
}

// NewSession wraps a Client with a team's credentials. The session
// takes ownership of accessToken; the caller must not use or close it
// afterwards.
func NewSession(client *Client, clientID ref.ClientID, accessToken *secret.Buffer) *Session {
	return &Session{
		client:      client,
		clientID:    clientID,
		accessToken: accessToken,
	}
}

// ClientID returns the device identity this session authenticates as.
func (s *Session) ClientID() ref.ClientID { return s.clientID }

// SetClientID records the device identity after client registration.
func (s *Session) SetClientID(clientID ref.ClientID) { s.clientID = clientID }

// SetAccessToken replaces the session's access token, closing the
// previous one. Takes ownership of the new buffer.
func (s *Session) SetAccessToken(accessToken *secret.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != nil {
		s.accessToken.Close()
	}
	s.accessToken = accessToken
}

// Close releases the access token.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != nil {
		s.accessToken.Close()
		s.accessToken = nil
	}
}

func (s *Session) request(ctx context.Context, method, path string, body any, query ...url.Values) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client.doRequest(ctx, method, path, s.accessToken, body, query...)
}

func (s *Session) requestRaw(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client.doRequestRaw(ctx, method, path, s.accessToken, contentType, body)
}

// RegisterClient registers a new permanent device carrying the given
// public signature key and returns the assigned client ID.
func (s *Session) RegisterClient(ctx context.Context, publicKey []byte, label string) (ref.ClientID, error) {
	body, err := s.request(ctx, http.MethodPost, "/clients", RegisterClientRequest{
		PublicKey: publicKey,
		Type:      "permanent",
		Label:     label,
	})
	if err != nil {
		return ref.ClientID{}, fmt.Errorf("backend: client registration failed: %w", err)
	}

	var response RegisterClientResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.ClientID{}, fmt.Errorf("backend: failed to parse registration response: %w", err)
	}
	clientID, err := ref.ParseClientID(response.ID)
	if err != nil {
		return ref.ClientID{}, fmt.Errorf("backend: registration returned invalid client ID: %w", err)
	}
	return clientID, nil
}

// UpdateClientPublicKey publishes the device's signature public key.
// Registration precedes crypto initialization, so the key arrives in a
// second call once the crypto session exists.
func (s *Session) UpdateClientPublicKey(ctx context.Context, publicKey []byte) error {
	path := "/clients/" + url.PathEscape(s.clientID.String())
	body := map[string][]byte{"public_key": publicKey}
	if _, err := s.request(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("backend: public key update failed: %w", err)
	}
	return nil
}

// UploadKeyPackages publishes fresh key packages into this client's
// claim pool.
func (s *Session) UploadKeyPackages(ctx context.Context, keyPackages [][]byte) error {
	path := "/mls/key-packages/self/" + url.PathEscape(s.clientID.String())
	if _, err := s.request(ctx, http.MethodPost, path, keyPackageUpload{KeyPackages: keyPackages}); err != nil {
		return fmt.Errorf("backend: key package upload failed: %w", err)
	}
	return nil
}

// ClaimKeyPackages claims one key package per device of each listed
// user, consuming them from the owners' pools.
func (s *Session) ClaimKeyPackages(ctx context.Context, users []ref.QualifiedID) ([]ClaimedKeyPackage, error) {
	body, err := s.request(ctx, http.MethodPost, "/mls/key-packages/claim", ClaimKeyPackagesRequest{Users: users})
	if err != nil {
		return nil, fmt.Errorf("backend: key package claim failed: %w", err)
	}

	var response ClaimKeyPackagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("backend: failed to parse claim response: %w", err)
	}
	return response.KeyPackages, nil
}

// SendMLSMessage submits an encrypted group message. The backend fans
// it out to all group members.
func (s *Session) SendMLSMessage(ctx context.Context, ciphertext []byte) (SendMessageResponse, error) {
	body, err := s.requestRaw(ctx, http.MethodPost, "/mls/messages", "message/mls", bytes.NewReader(ciphertext))
	if err != nil {
		return SendMessageResponse{}, fmt.Errorf("backend: message send failed: %w", err)
	}

	var response SendMessageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return SendMessageResponse{}, fmt.Errorf("backend: failed to parse send response: %w", err)
	}
	return response, nil
}

// SendCommitBundle submits a group-mutating commit (serialized
// CommitBundle). The backend validates it against the group's current
// epoch; a stale commit fails with the "mls-stale-message" label.
func (s *Session) SendCommitBundle(ctx context.Context, bundle []byte) error {
	if _, err := s.requestRaw(ctx, http.MethodPost, "/mls/commit-bundles", "message/mls", bytes.NewReader(bundle)); err != nil {
		return fmt.Errorf("backend: commit bundle send failed: %w", err)
	}
	return nil
}

// CreateConversation records a new conversation on the backend.
func (s *Session) CreateConversation(ctx context.Context, request CreateConversationRequest) (ConversationResponse, error) {
	body, err := s.request(ctx, http.MethodPost, "/conversations", request)
	if err != nil {
		return ConversationResponse{}, fmt.Errorf("backend: conversation create failed: %w", err)
	}

	var response ConversationResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ConversationResponse{}, fmt.Errorf("backend: failed to parse conversation response: %w", err)
	}
	return response, nil
}

// GetConversationGroupInfo fetches the public group info snapshot used
// for external joins. The body is opaque MLS bytes.
func (s *Session) GetConversationGroupInfo(ctx context.Context, conversationID ref.QualifiedID) ([]byte, error) {
	path := "/conversations/" + url.PathEscape(conversationID.Domain) +
		"/" + url.PathEscape(conversationID.ID) + "/groupinfo"
	body, err := s.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: group info fetch failed: %w", err)
	}
	return body, nil
}

// UploadAsset uploads pre-encrypted asset bytes and returns their
// location. The backend never sees plaintext; encryption happens in
// the asset package before upload.
func (s *Session) UploadAsset(ctx context.Context, ciphertext io.Reader, retention string) (AssetUploadResponse, error) {
	path := "/assets"
	if retention != "" {
		path += "?" + url.Values{"retention": {retention}}.Encode()
	}
	body, err := s.requestRaw(ctx, http.MethodPost, path, "application/octet-stream", ciphertext)
	if err != nil {
		return AssetUploadResponse{}, fmt.Errorf("backend: asset upload failed: %w", err)
	}

	var response AssetUploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return AssetUploadResponse{}, fmt.Errorf("backend: failed to parse upload response: %w", err)
	}
	return response, nil
}

// DownloadAsset fetches asset ciphertext by its location. The token,
// when present, authorizes access to assets of other users.
func (s *Session) DownloadAsset(ctx context.Context, key, domain, token string) ([]byte, error) {
	path := "/assets/" + url.PathEscape(domain) + "/" + url.PathEscape(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	requestURL := s.client.baseURL + path
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to create request: %w", err)
	}
	if s.accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+s.accessToken.String())
	}
	if token != "" {
		request.Header.Set("Asset-Token", token)
	}

	response, err := s.client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("backend: asset download failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
		return nil, errorFromResponse(response.StatusCode, body, http.MethodGet, path)
	}
	return io.ReadAll(response.Body)
}

// RefreshAccessToken exchanges the refresh token for a fresh access
// token (and, when the backend rotates it, a fresh refresh token —
// otherwise the second return is nil). The session's own access token
// is NOT swapped here; the caller persists the new credentials first,
// then calls SetAccessToken.
func (s *Session) RefreshAccessToken(ctx context.Context, refreshToken *secret.Buffer) (*secret.Buffer, *secret.Buffer, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/access", refreshToken, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: token refresh failed: %w", err)
	}

	var response tokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, nil, fmt.Errorf("backend: failed to parse token response: %w", err)
	}
	if response.AccessToken == "" {
		return nil, nil, fmt.Errorf("backend: token response carries no access token")
	}

	access, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: protecting access token: %w", err)
	}
	var refresh *secret.Buffer
	if response.RefreshToken != "" {
		refresh, err = secret.NewFromString(response.RefreshToken)
		if err != nil {
			access.Close()
			return nil, nil, fmt.Errorf("backend: protecting refresh token: %w", err)
		}
	}
	return access, refresh, nil
}
