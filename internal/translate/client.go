// Package translate turns extracted chapters into target-language copies
// through an external translation API.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
)

// Client talks to the translation API over HTTP JSON.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	language string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a translation client from config.
func NewClient(cfg config.TranslatorConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.TargetLanguage,
		http:     &http.Client{Timeout: cfg.Timeout()},
		logger:   logger,
	}
}

// Identity names the backing model for the translation audit trail.
func (c *Client) Identity() string {
	if c.model == "" {
		return "default"
	}
	return c.model
}

type translateRequest struct {
	Model          string `json:"model,omitempty"`
	TargetLanguage string `json:"target_language"`
	Context        string `json:"context,omitempty"`
	Text           string `json:"text"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
}

// Translate sends text to the API and returns the target-language copy.
// Quota exhaustion, timeouts and malformed answers all come back as
// *harvest.TranslationFailure so the orchestrator can skip the chapter and
// let a later cycle retry it.
func (c *Client) Translate(ctx context.Context, text, contextTitle string) (string, error) {
	payload, err := json.Marshal(translateRequest{
		Model:          c.model,
		TargetLanguage: c.language,
		Context:        contextTitle,
		Text:           text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &harvest.TranslationFailure{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &harvest.TranslationFailure{Reason: "transport", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &harvest.TranslationFailure{Reason: "quota", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return "", &harvest.TranslationFailure{Reason: "upstream", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &harvest.TranslationFailure{Reason: "rejected", Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var out translateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &harvest.TranslationFailure{Reason: "malformed", Err: err}
	}
	if out.Error != "" {
		return "", &harvest.TranslationFailure{Reason: "rejected", Err: errors.New(out.Error)}
	}
	if strings.TrimSpace(out.Translation) == "" {
		return "", &harvest.TranslationFailure{Reason: "malformed", Err: errors.New("empty translation in response")}
	}
	return out.Translation, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
