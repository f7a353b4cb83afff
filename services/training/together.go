package training

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"photogen-controlplane/pkg/config"
)

// TogetherClient polls the Together fine-tunes API.
type TogetherClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewTogetherClient(cfg *config.Config) *TogetherClient {
	base := cfg.Together.BaseURL
	if base == "" {
		base = "https://api.together.xyz"
	}
	return &TogetherClient{
		baseURL: base,
		token:   cfg.Together.APIToken,
		http:    newHTTPClient(),
	}
}

func (c *TogetherClient) Name() string { return "together" }

type togetherFineTune struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Events []struct {
		Message string `json:"message"`
	} `json:"events"`
}

// togetherStatus maps Together's fine-tune lifecycle onto the common
// provider vocabulary.
func togetherStatus(s string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued":
		return ProviderStarting
	case "running", "compressing":
		return ProviderProcessing
	case "completed":
		return ProviderSucceeded
	case "error":
		return ProviderFailed
	case "cancelled", "canceled":
		return ProviderCanceled
	default:
		return ProviderUnknown
	}
}

func (c *TogetherClient) GetTraining(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/fine-tunes/%s", c.baseURL, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("together: get fine-tune %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("together: get fine-tune %s: status %d: %s", externalID, resp.StatusCode, body)
	}

	var payload togetherFineTune
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("together: decode fine-tune %s: %w", externalID, err)
	}

	snap := &ProviderTrainingSnapshot{Status: togetherStatus(payload.Status)}
	if snap.Status == ProviderFailed && len(payload.Events) > 0 {
		snap.Error = payload.Events[len(payload.Events)-1].Message
	}
	var logs strings.Builder
	for _, ev := range payload.Events {
		logs.WriteString(ev.Message)
		logs.WriteByte('\n')
	}
	snap.Logs = logs.String()
	return snap, nil
}
