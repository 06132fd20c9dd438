package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
)

// pageEnvelope is the wire shape of one ClinicSay collection page.
type pageEnvelope struct {
	Data  []entity.SourceRecord `json:"data"`
	Total int                   `json:"total"`
}

// ReaderConfig tunes the paginated traversal.
type ReaderConfig struct {
	// PageSize is the number of records requested per page.
	PageSize int

	// OffsetParam and LimitParam are the query parameter names the
	// endpoint paginates with.
	OffsetParam string
	LimitParam  string

	// PageTimeout bounds one page request end to end.
	PageTimeout time.Duration
}

// PaginatedReader retrieves a source collection page by page. The first
// page's reported total fixes the page count for the whole traversal;
// later totals are ignored. If the true count shifts during a long run,
// pages may be missed or repeated - that is an accepted limitation of the
// source's offset pagination, not something the reader papers over.
type PaginatedReader struct {
	transport TransportClient
	config    ReaderConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewPaginatedReader creates a reader over the given transport.
func NewPaginatedReader(transport TransportClient, config ReaderConfig, logger *zap.Logger, m *metrics.Metrics) *PaginatedReader {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.OffsetParam == "" {
		config.OffsetParam = "offset"
	}
	if config.LimitParam == "" {
		config.LimitParam = "limit"
	}
	if config.PageTimeout <= 0 {
		config.PageTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaginatedReader{
		transport: transport,
		config:    config,
		logger:    logger.With(zap.String("component", "paginated_reader")),
		metrics:   m,
	}
}

// FetchPage requests a single page starting at the given record offset.
func (r *PaginatedReader) FetchPage(ctx context.Context, endpoint string, offset int) (*entity.SourcePage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.PageTimeout)
	defer cancel()

	query := url.Values{}
	query.Set(r.config.OffsetParam, strconv.Itoa(offset))
	query.Set(r.config.LimitParam, strconv.Itoa(r.config.PageSize))

	resp, err := r.transport.Get(ctx, endpoint, query)
	if err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindTransport, err,
			"page request failed for %s at offset %d", endpoint, offset)
	}
	if !resp.Success {
		return nil, entity.NewMigrationError(entity.MigrationErrorKindTransport,
			"page request for %s at offset %d returned status %d: %s",
			endpoint, offset, resp.StatusCode, truncate(resp.Body, 256)).
			WithCode(strconv.Itoa(resp.StatusCode))
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindTransport, err,
			"page response for %s at offset %d is not valid JSON", endpoint, offset)
	}

	return &entity.SourcePage{
		Records: envelope.Data,
		Total:   envelope.Total,
		Index:   offset / r.config.PageSize,
	}, nil
}

// StreamPages traverses the collection from offset 0 upward, invoking
// onPage for each page in order. The callback is awaited before the next
// page is requested, so at most one page is held in memory at a time.
//
// Failure of the first page is fatal (no total count is known yet).
// Failure of any later page is logged, counted, and skipped; the traversal
// continues. An error returned by onPage aborts the traversal.
func (r *PaginatedReader) StreamPages(ctx context.Context, endpoint string, onPage PageCallback) (*entity.TraversalStats, error) {
	stats := &entity.TraversalStats{}

	first, err := r.FetchPage(ctx, endpoint, 0)
	stats.PagesRequested++
	if err != nil {
		return stats, fmt.Errorf("first page of %s failed: %w", endpoint, err)
	}
	stats.PagesFetched++
	stats.TotalReported = first.Total
	if r.metrics != nil {
		r.metrics.PagesFetched.WithLabelValues(endpoint).Inc()
	}

	totalPages := (first.Total + r.config.PageSize - 1) / r.config.PageSize
	if totalPages == 0 && len(first.Records) > 0 {
		totalPages = 1
	}

	r.logger.Info("Starting paginated traversal",
		zap.String("endpoint", endpoint),
		zap.Int("total_records", first.Total),
		zap.Int("total_pages", totalPages),
		zap.Int("page_size", r.config.PageSize))

	if totalPages == 0 {
		return stats, nil
	}

	if err := onPage(ctx, first, totalPages); err != nil {
		return stats, fmt.Errorf("page 0 of %s: consumer failed: %w", endpoint, err)
	}

	for index := 1; index < totalPages; index++ {
		page, err := r.FetchPage(ctx, endpoint, index*r.config.PageSize)
		stats.PagesRequested++
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			r.logger.Warn("Skipping failed page",
				zap.String("endpoint", endpoint),
				zap.Int("page", index),
				zap.Error(err))
			if r.metrics != nil {
				r.metrics.PageFailures.WithLabelValues(endpoint).Inc()
			}
			continue
		}
		stats.PagesFetched++
		if r.metrics != nil {
			r.metrics.PagesFetched.WithLabelValues(endpoint).Inc()
		}

		page.Index = index
		if err := onPage(ctx, page, totalPages); err != nil {
			return stats, fmt.Errorf("page %d of %s: consumer failed: %w", index, endpoint, err)
		}
	}

	return stats, nil
}

// FetchAll materializes every page of the collection into one ordered
// sequence. A failed intermediate page is skipped with a warning; the
// result reports both requested and actually fetched counts so callers can
// tell a best-effort total from a complete one.
func (r *PaginatedReader) FetchAll(ctx context.Context, endpoint string) (*FetchAllResult, error) {
	result := &FetchAllResult{}

	stats, err := r.StreamPages(ctx, endpoint, func(ctx context.Context, page *entity.SourcePage, totalPages int) error {
		result.Records = append(result.Records, page.Records...)
		return nil
	})
	if stats != nil {
		result.Requested = stats.PagesRequested
		result.Fetched = stats.PagesFetched
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
