package entity

// SourcePage is one page of a source collection as fetched by the
// paginated reader. Pages are transient: records are discarded after the
// page's transform and load complete.
type SourcePage struct {
	// Records holds the page's items as received, untransformed.
	Records []SourceRecord

	// Total is the collection size the source reported alongside this
	// page.
	Total int

	// Index is the zero-based page number within the traversal.
	Index int
}

// TraversalStats reports how a paginated traversal went. Requested counts
// every page attempted; Fetched only those that arrived.
type TraversalStats struct {
	PagesRequested int `json:"pages_requested"`
	PagesFetched   int `json:"pages_fetched"`
	TotalReported  int `json:"total_reported"`
}
