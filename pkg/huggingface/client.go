package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photogen-controlplane/pkg/config"

	"go.uber.org/fx"
)

const defaultBaseURL = "https://huggingface.co"

var Module = fx.Module("huggingface.client", fx.Provide(New))

// Client talks to the HuggingFace Hub API. Only the operations the
// cleanup tooling needs are implemented: listing a user's model repos
// and deleting one.
type Client struct {
	baseURL  string
	username string
	token    string
	http     *http.Client
}

func New(cfg *config.Config) *Client {
	baseURL := cfg.HuggingFace.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: cfg.HuggingFace.Username,
		token:    cfg.HuggingFace.APIToken,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Username() string {
	return c.username
}

type Model struct {
	ID string `json:"id"`
}

// Name returns the repo name without the owner prefix.
func (m Model) Name() string {
	if i := strings.LastIndex(m.ID, "/"); i >= 0 {
		return m.ID[i+1:]
	}
	return m.ID
}

// ListModels returns all model repos owned by the configured user.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	endpoint := fmt.Sprintf("%s/api/models?author=%s", c.baseURL, url.QueryEscape(c.username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("huggingface list models: status %d: %s", resp.StatusCode, string(body))
	}

	var models []Model
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, err
	}

	return models, nil
}

// DeleteRepo removes a model repository. Accepts either "name" or
// "owner/name"; bare names get the configured username prefixed.
func (c *Client) DeleteRepo(ctx context.Context, repo string) error {
	if !strings.Contains(repo, "/") {
		repo = c.username + "/" + repo
	}

	parts := strings.SplitN(repo, "/", 2)
	payload, err := json.Marshal(map[string]string{
		"type":         "model",
		"organization": parts[0],
		"name":         parts[1],
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/repos/delete", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("huggingface delete repo %s: status %d: %s", repo, resp.StatusCode, string(body))
	}

	return nil
}
