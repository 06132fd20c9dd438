package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// fakeStore scripts transaction outcomes and natural-key lookups.
// txErrs[i] fails the i-th transaction before fn runs; lookups is a queue
// of responses consumed per LookupGeneratedIDs call, with the last entry
// reused once exhausted.
type fakeStore struct {
	mu      sync.Mutex
	execs   []execCall
	txErrs  []error
	txIndex int

	lookups     []map[string]int64
	lookupCalls int
	lookupErr   error
}

func (s *fakeStore) WithTransaction(ctx context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	idx := s.txIndex
	s.txIndex++
	s.mu.Unlock()

	if idx < len(s.txErrs) && s.txErrs[idx] != nil {
		return s.txErrs[idx]
	}
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) LookupGeneratedIDs(ctx context.Context, table string, sourceIDs []string, tenantID uuid.UUID) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if len(s.lookups) == 0 {
		return map[string]int64{}, nil
	}

	response := s.lookups[len(s.lookups)-1]
	if s.lookupCalls < len(s.lookups) {
		response = s.lookups[s.lookupCalls]
	}
	s.lookupCalls++

	result := make(map[string]int64)
	for _, id := range sourceIDs {
		if generated, ok := response[id]; ok {
			result[id] = generated
		}
	}
	return result, nil
}

func (s *fakeStore) calls() []execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execCall, len(s.execs))
	copy(out, s.execs)
	return out
}

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.execs = append(t.store.execs, execCall{query: query, args: args})
	return fakeResult{rows: int64(len(args))}, nil
}

// stubOracle returns a scripted result and records what it was asked.
type stubOracle struct {
	mu       sync.Mutex
	result   json.RawMessage
	err      error
	calls    int
	requests []*OracleRequest
}

func (o *stubOracle) ProposeMapping(ctx context.Context, req *OracleRequest) (json.RawMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	return o.result, nil
}

// fakeStreamer serves a fixed sequence of pages.
type fakeStreamer struct {
	pages []*entity.SourcePage
}

func (f *fakeStreamer) StreamPages(ctx context.Context, endpoint string, onPage func(ctx context.Context, page *entity.SourcePage, totalPages int) error) (*entity.TraversalStats, error) {
	stats := &entity.TraversalStats{}
	for i, page := range f.pages {
		page.Index = i
		stats.PagesRequested++
		stats.PagesFetched++
		if err := onPage(ctx, page, len(f.pages)); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
