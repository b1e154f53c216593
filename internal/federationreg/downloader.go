package federationreg

import (
	"context"
	"fmt"

	"github.com/rawblock/fedobserver/internal/consensusapi"
)

// WSDownloader fetches a federation's config over the same consensus API
// used for session fetching, trying each invite endpoint in order until one
// answers (spec §4.C "download the signed client config (external network
// capability)").
type WSDownloader struct{}

func (WSDownloader) DownloadConfig(ctx context.Context, endpoints []string) ([]byte, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		cfg, err := downloadFrom(ctx, endpoint)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no guardian endpoint answered: %w", lastErr)
}

func downloadFrom(ctx context.Context, endpoint string) ([]byte, error) {
	client, err := consensusapi.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.Config(ctx)
}
