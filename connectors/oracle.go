package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/engine"
)

// OracleClientConfig configures the reconciliation oracle endpoint.
type OracleClientConfig struct {
	URL            string
	APIKey         string
	RequestTimeout time.Duration
}

// OracleClient talks to the external heuristic matching service. The
// service's reasoning is a black box; this client only ships the two
// collections with their instructions and hands the raw JSON result back
// to the engine, which owns all structural validation.
type OracleClient struct {
	config     *OracleClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ engine.Oracle = (*OracleClient)(nil)

// NewOracleClient creates a client for the reconciliation oracle.
func NewOracleClient(config *OracleClientConfig, logger *zap.Logger) (*OracleClient, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("oracle URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OracleClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "oracle_client")),
	}, nil
}

// ProposeMapping submits a reconciliation request and returns the oracle's
// raw JSON result.
func (c *OracleClient) ProposeMapping(ctx context.Context, req *engine.OracleRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindOracle, err,
			"failed to encode oracle request for %s", req.EntityType)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindOracle, err,
			"failed to build oracle request for %s", req.EntityType)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindOracle, err,
			"oracle unreachable for %s", req.EntityType)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindOracle, err,
			"failed to read oracle response for %s", req.EntityType)
	}

	c.logger.Debug("Oracle request completed",
		zap.String("entity_type", req.EntityType),
		zap.Int("source_items", len(req.Source)),
		zap.Int("target_items", len(req.Target)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, entity.NewMigrationError(entity.MigrationErrorKindOracle,
			"oracle returned status %d for %s: %s",
			resp.StatusCode, req.EntityType, truncate(body, 256)).
			WithCode(fmt.Sprintf("%d", resp.StatusCode))
	}

	return json.RawMessage(body), nil
}
