// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/bureau-foundation/wireapp/event"
)

// maxFrameSize bounds a single event stream frame: 16 MB. Envelopes
// are JSON event lists; anything bigger is a protocol violation.
const maxFrameSize = 16 << 20

// Stream is one persistent event stream for a team. Frames are decoded
// into event envelopes by Next. Not safe for concurrent Next calls —
// the supervisor owns the read loop.
type Stream struct {
	conn *websocket.Conn
}

// OpenStream dials the team's event stream, authenticated with the
// session's access token and client ID. Stream failures are returned
// from Next, never retried here — the reconnect policy lives with the
// lifecycle controller.
func (s *Session) OpenStream(ctx context.Context) (*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streamURL := s.client.baseURL + "/await?" + url.Values{
		"client": {s.clientID.String()},
	}.Encode()

	header := http.Header{}
	if s.accessToken != nil {
		header.Set("Authorization", "Bearer "+s.accessToken.String())
	}

	conn, response, err := websocket.Dial(ctx, streamURL, &websocket.DialOptions{
		HTTPClient: s.client.httpClient,
		HTTPHeader: header,
	})
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		if response != nil {
			// Surface the handshake rejection through the normal error
			// mapping so an expired token comes back as Unauthorized.
			return nil, errorFromResponse(response.StatusCode, nil, http.MethodGet, "/await")
		}
		return nil, fmt.Errorf("backend: opening event stream: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	s.client.logger.Debug("event stream opened", "client", s.clientID)
	return &Stream{conn: conn}, nil
}

// Next blocks until the next envelope arrives, the stream ends, or ctx
// is cancelled. A clean server-side close returns an error too — the
// caller decides whether to reconnect.
func (st *Stream) Next(ctx context.Context) (event.Envelope, error) {
	_, data, err := st.conn.Read(ctx)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("backend: reading event stream: %w", err)
	}

	var envelope event.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return event.Envelope{}, fmt.Errorf("backend: decoding event envelope: %w", err)
	}
	return envelope, nil
}

// Close tears the stream down. Safe to call concurrently with Next,
// which will return with an error.
func (st *Stream) Close() error {
	return st.conn.Close(websocket.StatusNormalClosure, "client shutdown")
}
