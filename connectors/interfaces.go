package connectors

import (
	"context"
	"net/url"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// TransportClient abstracts the HTTP transport to the ClinicSay API.
// Implementations handle authentication, rate limiting and circuit
// breaking; callers only see a normalized response or a tagged transport
// error.
type TransportClient interface {
	// Get performs one GET request against a relative endpoint.
	Get(ctx context.Context, endpoint string, query url.Values) (*APIResponse, error)

	// Post performs one JSON POST request against a relative endpoint.
	Post(ctx context.Context, endpoint string, body interface{}) (*APIResponse, error)
}

// APIResponse is the normalized result of one transport call.
type APIResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"-"`
}

// PageCallback consumes one page during a streamed traversal. It is
// awaited before the next page is requested, so a consumer's load step
// fully finishes before new data is fetched.
type PageCallback = func(ctx context.Context, page *entity.SourcePage, totalPages int) error

// FetchAllResult is the materialized outcome of a full traversal.
type FetchAllResult struct {
	Records   []entity.SourceRecord `json:"-"`
	Requested int                   `json:"requested"`
	Fetched   int                   `json:"fetched"`
}
