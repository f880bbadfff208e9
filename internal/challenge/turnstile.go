// Package challenge verifies Cloudflare Turnstile tokens.
package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultVerifyURL is Cloudflare's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type verifyRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Turnstile posts challenge tokens to the siteverify endpoint.
type Turnstile struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewTurnstile(secret, verifyURL string, timeout time.Duration) *Turnstile {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Turnstile{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Verify reports whether the provider accepted challengeToken. An error means
// the provider could not be asked or answered with something unreadable.
func (t *Turnstile) Verify(ctx context.Context, challengeToken string) (bool, error) {
	body, err := json.Marshal(verifyRequest{Secret: t.secret, Response: challengeToken})
	if err != nil {
		return false, fmt.Errorf("failed to encode siteverify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("siteverify returned %s: %s", resp.Status, string(b))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode siteverify response: %w", err)
	}

	return out.Success, nil
}
