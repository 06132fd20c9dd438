package entity

// ChunkError describes the failure of a single chunk within a batch load.
// It is a report, not an error value: chunk failures never propagate past
// the loader, they are accumulated here.
type ChunkError struct {
	ChunkIndex int    `json:"chunk_index"`
	Offset     int    `json:"offset"`
	Message    string `json:"message"`
	StoreCode  string `json:"store_code,omitempty"`
}

// BatchRunStats accumulates the outcome of one chunked load against one
// target table. It is mutated only by the loader and is never rolled back
// with a failing transaction.
type BatchRunStats struct {
	Target           string       `json:"target"`
	TotalRecords     int          `json:"total_records"`
	TotalChunks      int          `json:"total_chunks"`
	SuccessfulChunks int          `json:"successful_chunks"`
	FailedChunks     int          `json:"failed_chunks"`
	InsertedRecords  int          `json:"inserted_records"`
	Errors           []ChunkError `json:"errors,omitempty"`
}

// RecordSuccess accounts a committed chunk.
func (s *BatchRunStats) RecordSuccess(inserted int) {
	s.TotalChunks++
	s.SuccessfulChunks++
	s.InsertedRecords += inserted
}

// RecordFailure accounts a rolled-back chunk.
func (s *BatchRunStats) RecordFailure(chunkIndex, offset int, message, storeCode string) {
	s.TotalChunks++
	s.FailedChunks++
	s.Errors = append(s.Errors, ChunkError{
		ChunkIndex: chunkIndex,
		Offset:     offset,
		Message:    message,
		StoreCode:  storeCode,
	})
}

// Merge folds another load's stats into this one. Used by the orchestrator
// to aggregate page-level loads into a run-level report.
func (s *BatchRunStats) Merge(other *BatchRunStats) {
	if other == nil {
		return
	}
	if s.Target == "" {
		s.Target = other.Target
	}
	s.TotalRecords += other.TotalRecords
	s.TotalChunks += other.TotalChunks
	s.SuccessfulChunks += other.SuccessfulChunks
	s.FailedChunks += other.FailedChunks
	s.InsertedRecords += other.InsertedRecords
	s.Errors = append(s.Errors, other.Errors...)
}

// Complete reports whether every chunk committed. A run is "complete" only
// when this holds; otherwise it is "complete with errors".
func (s *BatchRunStats) Complete() bool {
	return s.FailedChunks == 0
}
