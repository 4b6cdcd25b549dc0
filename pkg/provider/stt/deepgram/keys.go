package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const keysEndpointFmt = "https://api.deepgram.com/v1/projects/%s/keys"

// TemporaryKey is a short-lived, usage-scoped Deepgram API key minted for a
// browser client so the account key never leaves the server.
type TemporaryKey struct {
	// ID is the Deepgram-assigned identifier of the key.
	ID string

	// Key is the secret to hand to the client.
	Key string

	// ExpiresAt is when the key stops working.
	ExpiresAt time.Time
}

// createKeyRequest is the JSON body for POST /v1/projects/{id}/keys.
type createKeyRequest struct {
	TimeToLiveInSeconds int      `json:"time_to_live_in_seconds"`
	Comment             string   `json:"comment"`
	Scopes              []string `json:"scopes"`
}

// createKeyResponse is the JSON body returned by the keys endpoint.
type createKeyResponse struct {
	APIKeyID string `json:"api_key_id"`
	Key      string `json:"key"`
}

// CreateTemporaryKey mints a key in the given project, scoped to usage:write,
// valid for ttl. comment identifies the requesting client in the Deepgram
// console.
func (p *Provider) CreateTemporaryKey(ctx context.Context, projectID, comment string, ttl time.Duration) (*TemporaryKey, error) {
	if projectID == "" {
		return nil, fmt.Errorf("deepgram: projectID must not be empty")
	}

	body, err := json.Marshal(createKeyRequest{
		TimeToLiveInSeconds: int(ttl.Seconds()),
		Comment:             comment,
		Scopes:              []string{"usage:write"},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal key request: %w", err)
	}

	url := fmt.Sprintf(keysEndpointFmt, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create key request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: create key: unexpected status %d: %s", resp.StatusCode, msg)
	}

	var ckr createKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ckr); err != nil {
		return nil, fmt.Errorf("deepgram: decode key response: %w", err)
	}

	return &TemporaryKey{
		ID:        ckr.APIKeyID,
		Key:       ckr.Key,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
