package training

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"photogen-controlplane/pkg/config"
)

// ReplicateClient polls the Replicate trainings API.
type ReplicateClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewReplicateClient(cfg *config.Config) *ReplicateClient {
	base := cfg.Replicate.BaseURL
	if base == "" {
		base = "https://api.replicate.com"
	}
	return &ReplicateClient{
		baseURL: base,
		token:   cfg.Replicate.APIToken,
		http:    newHTTPClient(),
	}
}

func (c *ReplicateClient) Name() string { return "replicate" }

type replicateTraining struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Logs   string `json:"logs"`
}

func (c *ReplicateClient) GetTraining(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/trainings/%s", c.baseURL, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: get training %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("replicate: get training %s: status %d: %s", externalID, resp.StatusCode, body)
	}

	var payload replicateTraining
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("replicate: decode training %s: %w", externalID, err)
	}

	return &ProviderTrainingSnapshot{
		Status: ProviderStatusFromString(payload.Status),
		Error:  payload.Error,
		Logs:   payload.Logs,
	}, nil
}
