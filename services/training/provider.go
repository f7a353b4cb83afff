package training

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
)

// ProviderClient polls an external fine-tuning provider for the current
// state of a training run.
type ProviderClient interface {
	Name() string
	GetTraining(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error)
}

// ProviderRegistry routes lookups by the provider name stored on the
// training job row.
type ProviderRegistry struct {
	clients map[string]ProviderClient
}

func NewProviderRegistry(clients ...ProviderClient) *ProviderRegistry {
	r := &ProviderRegistry{clients: make(map[string]ProviderClient, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

func (r *ProviderRegistry) Get(name string) (ProviderClient, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown training provider %q", name)
	}
	return c, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

var ProviderModule = fx.Module("training.providers",
	fx.Provide(
		NewReplicateClient,
		NewTogetherClient,
		func(replicate *ReplicateClient, together *TogetherClient) *ProviderRegistry {
			return NewProviderRegistry(replicate, together)
		},
	),
)
