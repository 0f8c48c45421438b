package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
)

const (
	clientConfigFetchTimeout = 30 * time.Second
	maxClientConfigBytes     = 4 << 20
)

// LoadClientConfig resolves the client-config bundle for this run. A cached
// file at FORM_SENDER_CLIENT_CONFIG_PATH wins; otherwise the signed URL in
// FORM_SENDER_CLIENT_CONFIG_URL is fetched and cached at that path.
func LoadClientConfig(ctx context.Context, logger arbor.ILogger) (*models.ClientConfig, error) {
	path := os.Getenv("FORM_SENDER_CLIENT_CONFIG_PATH")
	if path == "" {
		path = "/tmp/client_config.json"
	}

	if data, err := os.ReadFile(path); err == nil {
		logger.Debug().Str("path", path).Msg("Client config loaded from local cache")
		return parseClientConfig(data)
	}

	url := os.Getenv("FORM_SENDER_CLIENT_CONFIG_URL")
	if url == "" {
		return nil, fmt.Errorf("no client config at %s and FORM_SENDER_CLIENT_CONFIG_URL is unset", path)
	}

	data, err := fetchClientConfig(ctx, url)
	if err != nil {
		return nil, err
	}
	cfg, err := parseClientConfig(data)
	if err != nil {
		return nil, err
	}

	// Cache for worker subprocesses; fetch once per container.
	if err := os.WriteFile(path, data, 0600); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to cache client config")
	}
	logger.Info().
		Int64("targeting_id", cfg.Targeting.TargetingID).
		Str("client_email", common.Sanitize(cfg.Client.Email)).
		Msg("Client config fetched")
	return cfg, nil
}

func fetchClientConfig(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, clientConfigFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build client config request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch client config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch client config: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClientConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("read client config: %w", err)
	}
	return data, nil
}

func parseClientConfig(data []byte) (*models.ClientConfig, error) {
	cfg := &models.ClientConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode client config: %w", err)
	}
	if cfg.Targeting.TargetingID <= 0 {
		return nil, fmt.Errorf("client config missing targeting.targeting_id")
	}
	if cfg.Client.Email == "" || cfg.Client.CompanyName == "" {
		return nil, fmt.Errorf("client config missing required client fields")
	}
	return cfg, nil
}
