package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
)

// LoaderConfig tunes the chunked loader.
type LoaderConfig struct {
	// ChunkSize is the number of records per transaction.
	ChunkSize int

	// ChunkTimeout bounds one chunk transaction end to end.
	ChunkTimeout time.Duration
}

// ChunkResult is the outcome of one chunk load.
type ChunkResult struct {
	Inserted  int
	Succeeded bool
	Err       error
}

// ChunkCallback is invoked after each chunk of LoadAll, success or not.
type ChunkCallback func(chunkIndex int, result *ChunkResult)

// ChunkedLoader inserts homogeneous records into one named target table in
// fixed-size chunks, each chunk in its own all-or-nothing transaction. A
// failed chunk is recorded and the run continues; store failures never
// propagate past LoadAll.
type ChunkedLoader struct {
	store   Store
	config  LoaderConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewChunkedLoader creates a loader over the given store.
func NewChunkedLoader(store Store, config LoaderConfig, logger *zap.Logger, m *metrics.Metrics) *ChunkedLoader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 50
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkedLoader{
		store:   store,
		config:  config,
		logger:  logger.With(zap.String("component", "chunked_loader")),
		metrics: m,
	}
}

// LoadChunk sanitizes the records, derives the column set from the first
// record and executes one multi-row insert inside a single transaction.
// All records in a chunk must share the same column set; a heterogeneous
// chunk is a caller error and fails validation before the store is
// touched. Empty input is a no-op success.
func (l *ChunkedLoader) LoadChunk(ctx context.Context, target string, records []entity.TargetRecord) *ChunkResult {
	if len(records) == 0 {
		return &ChunkResult{Succeeded: true}
	}

	sanitized := make([]entity.TargetRecord, len(records))
	for i, rec := range records {
		sanitized[i] = Sanitize(rec)
	}

	columns := sanitized[0].Columns()
	for i, rec := range sanitized {
		if !sameColumns(columns, rec) {
			return &ChunkResult{Err: entity.NewMigrationError(entity.MigrationErrorKindValidation,
				"record %d has columns %v, chunk expects %v", i, rec.Columns(), columns)}
		}
	}

	query, args := buildMultiRowInsert(target, columns, sanitized)

	ctx, cancel := context.WithTimeout(ctx, l.config.ChunkTimeout)
	defer cancel()

	err := l.store.WithTransaction(ctx, func(tx StoreTx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return &ChunkResult{Err: tagStoreError(err, target)}
	}

	return &ChunkResult{Inserted: len(sanitized), Succeeded: true}
}

// LoadAll splits the records into consecutive chunks and loads them in
// strict ascending order, accumulating per-run statistics. onChunkDone, if
// given, is invoked after every chunk regardless of outcome. A failed
// chunk does not abort the run; only its records are excluded from the
// inserted count.
func (l *ChunkedLoader) LoadAll(ctx context.Context, target string, records []entity.TargetRecord, onChunkDone ChunkCallback) *entity.BatchRunStats {
	stats := &entity.BatchRunStats{
		Target:       target,
		TotalRecords: len(records),
	}

	for offset, index := 0, 0; offset < len(records); offset, index = offset+l.config.ChunkSize, index+1 {
		end := offset + l.config.ChunkSize
		if end > len(records) {
			end = len(records)
		}

		result := l.LoadChunk(ctx, target, records[offset:end])
		if result.Succeeded {
			stats.RecordSuccess(result.Inserted)
			if l.metrics != nil {
				l.metrics.ChunksCommitted.WithLabelValues(target).Inc()
				l.metrics.RecordsInserted.WithLabelValues(target).Add(float64(result.Inserted))
			}
		} else {
			var code string
			var me *entity.MigrationError
			if errors.As(result.Err, &me) {
				code = me.Code
			}
			stats.RecordFailure(index, offset, result.Err.Error(), code)
			l.logger.Error("Chunk load failed",
				zap.String("target", target),
				zap.Int("chunk", index),
				zap.Int("offset", offset),
				zap.String("store_code", code),
				zap.Error(result.Err))
			if l.metrics != nil {
				l.metrics.ChunksFailed.WithLabelValues(target).Inc()
			}
		}

		if onChunkDone != nil {
			onChunkDone(index, result)
		}
	}

	l.logger.Info("Batch load finished",
		zap.String("target", target),
		zap.Int("total_records", stats.TotalRecords),
		zap.Int("chunks", stats.TotalChunks),
		zap.Int("failed_chunks", stats.FailedChunks),
		zap.Int("inserted", stats.InsertedRecords))

	return stats
}

// buildMultiRowInsert renders one INSERT with a VALUES tuple per record.
// Column order is the sorted order from TargetRecord.Columns, so the
// statement is deterministic for a given chunk.
func buildMultiRowInsert(target string, columns []string, records []entity.TargetRecord) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pq.QuoteIdentifier(target))
	sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pq.QuoteIdentifier(col))
	}
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*len(columns))
	placeholder := 1
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
			args = append(args, rec[col])
		}
		sb.WriteString(")")
	}

	return sb.String(), args
}

func sameColumns(columns []string, rec entity.TargetRecord) bool {
	if len(rec) != len(columns) {
		return false
	}
	for _, col := range columns {
		if _, ok := rec[col]; !ok {
			return false
		}
	}
	return true
}

// tagStoreError wraps a store failure with its native code when the driver
// exposes one.
func tagStoreError(err error, target string) error {
	tagged := entity.WrapMigrationError(entity.MigrationErrorKindStore, err,
		"chunk insert into %s failed: %v", target, err)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		tagged.WithCode(string(pqErr.Code))
	}
	return tagged
}
