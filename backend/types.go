// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"time"

	"github.com/bureau-foundation/wireapp/lib/ref"
)

// RegisterClientRequest registers a new device for the app user.
type RegisterClientRequest struct {
	// PublicKey is the client's public signature key (base64 on the
	// wire via encoding/json). Empty when registration happens before
	// the crypto session exists; the key follows via
	// UpdateClientPublicKey.
	PublicKey []byte `json:"public_key,omitempty"`
	// Type is the client class; apps register "permanent" clients.
	Type string `json:"type"`
	// Label is a human-readable device label shown in device lists.
	Label string `json:"label,omitempty"`
}

// RegisterClientResponse carries the backend-assigned client ID.
type RegisterClientResponse struct {
	ID string `json:"id"`
}

// keyPackageUpload is the body of the key package upload call.
type keyPackageUpload struct {
	KeyPackages [][]byte `json:"key_packages"`
}

// ClaimKeyPackagesRequest claims one key package per device of each
// listed user.
type ClaimKeyPackagesRequest struct {
	Users []ref.QualifiedID `json:"users"`
}

// ClaimedKeyPackage is one claimed key package with its owner.
type ClaimedKeyPackage struct {
	User       ref.QualifiedID `json:"user"`
	Client     string          `json:"client"`
	KeyPackage []byte          `json:"key_package"`
}

// ClaimKeyPackagesResponse lists the claimed key packages.
type ClaimKeyPackagesResponse struct {
	KeyPackages []ClaimedKeyPackage `json:"key_packages"`
}

// SendMessageResponse acknowledges an accepted MLS message.
type SendMessageResponse struct {
	Time time.Time `json:"time"`
}

// CreateConversationRequest creates a conversation on the backend. The
// group itself is established client-side; the backend only records
// the conversation and its group handle.
type CreateConversationRequest struct {
	Name           string            `json:"name,omitempty"`
	GroupID        string            `json:"group_id"`
	QualifiedUsers []ref.QualifiedID `json:"qualified_users,omitempty"`
	Team           string            `json:"team,omitempty"`
	Type           int               `json:"type"`
}

// ConversationResponse is the backend's view of a conversation.
type ConversationResponse struct {
	QualifiedID ref.QualifiedID `json:"qualified_id"`
	Name        string          `json:"name,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	Team        string          `json:"team,omitempty"`
	Type        int             `json:"type"`
}

// AssetUploadResponse locates an uploaded asset.
type AssetUploadResponse struct {
	Key    string `json:"key"`
	Domain string `json:"domain"`
	Token  string `json:"token,omitempty"`
}

// tokenResponse is the wire shape of the token refresh response.
// Tokens are moved into secret buffers immediately after decode; see
// Session.RefreshAccessToken.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}
