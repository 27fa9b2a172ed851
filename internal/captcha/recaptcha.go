package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// minScore is the lowest reCAPTCHA v3 score that is let through.
const minScore = 0.2

// Verdict is the outcome of a bot check.
type Verdict int

const (
	Accepted Verdict = iota
	RejectedLowScore
	RejectedOther
)

// Verifier checks a client-supplied bot mitigation token. An error means the check
// itself could not be performed; callers treat that as Accepted.
type Verifier interface {
	Verify(ctx context.Context, token string) (Verdict, error)
}

type siteverifyResponse struct {
	Success bool     `json:"success"`
	Score   *float64 `json:"score"`
}

// Recaptcha verifies tokens against the siteverify API.
type Recaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewRecaptcha creates a Recaptcha verifier. An empty verifyURL uses DefaultVerifyURL.
func NewRecaptcha(secret, verifyURL string) *Recaptcha {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Recaptcha{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify posts the token and classifies the answer.
func (r *Recaptcha) Verify(ctx context.Context, token string) (Verdict, error) {
	form := url.Values{"secret": {r.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Accepted, fmt.Errorf("recaptcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return Accepted, fmt.Errorf("recaptcha: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Accepted, fmt.Errorf("recaptcha: unexpected status %d", resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Accepted, fmt.Errorf("recaptcha: decode response: %w", err)
	}
	if body.Score != nil && *body.Score < minScore {
		return RejectedLowScore, nil
	}
	if !body.Success {
		return RejectedOther, nil
	}
	return Accepted, nil
}
