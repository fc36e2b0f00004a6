package lottery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ProviderClient submits randomness requests to an external HTTP provider.
// The provider later POSTs the fulfillment to the callback URL, authenticated
// by the shared token, and the API layer feeds it into the engine.
type ProviderClient struct {
	baseURL     string
	authToken   string
	callbackURL string
	client      *http.Client
}

func NewProviderClient(baseURL, authToken, callbackURL string) *ProviderClient {
	return &ProviderClient{
		baseURL:     baseURL,
		authToken:   authToken,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type providerRequest struct {
	Round       int64  `json:"round"`
	NumWords    int    `json:"num_words"`
	CallbackURL string `json:"callback_url"`
}

type providerResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error,omitempty"`
}

func (p *ProviderClient) SubmitRequest(ctx context.Context, round int64) (string, error) {
	body, err := json.Marshal(providerRequest{
		Round:       round,
		NumWords:    1,
		CallbackURL: p.callbackURL,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, b)
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("provider response decode failed: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("provider rejected request: %s", out.Error)
	}
	if out.RequestID == "" {
		return "", errors.New("provider returned empty request id")
	}
	return out.RequestID, nil
}

// LocalProvider fulfills its own requests with crypto/rand after a short
// delay. It is the development stand-in for the real provider; the
// asynchronous submit/fulfill boundary is preserved so the engine goes
// through the same two-phase transition it would in production.
type LocalProvider struct {
	delay   time.Duration
	fulfill func(requestID string, randomWords []uint64)
}

func NewLocalProvider(delay time.Duration) *LocalProvider {
	return &LocalProvider{delay: delay}
}

// Bind connects the provider to the engine's fulfillment entry point. Must be
// called before the first SubmitRequest.
func (l *LocalProvider) Bind(fulfill func(requestID string, randomWords []uint64)) {
	l.fulfill = fulfill
}

func (l *LocalProvider) SubmitRequest(ctx context.Context, round int64) (string, error) {
	if l.fulfill == nil {
		return "", errors.New("local provider not bound to a fulfillment sink")
	}

	requestID := uuid.NewString()
	go func() {
		time.Sleep(l.delay)
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			log.Printf("lottery: local provider entropy failure for %s: %v", requestID, err)
			return
		}
		l.fulfill(requestID, []uint64{binary.BigEndian.Uint64(buf[:])})
	}()
	return requestID, nil
}
