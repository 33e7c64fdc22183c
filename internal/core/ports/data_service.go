package ports

import (
	"context"
)

// Query is a filtered, ordered collection query against the remote data
// service. Filter values are matched for equality.
type Query struct {
	Collection string
	Filter     map[string]any
	SortBy     string
	Descending bool
	Limit      int64
}

// DataService is the remote document store.
type DataService interface {
	// Get decodes the document with id into out, or returns domain.ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error
	// Put creates or replaces the document with id.
	Put(ctx context.Context, collection, id string, doc any) error
	// Find decodes every matching document into out (a pointer to a slice).
	// No matches is a successful empty result.
	Find(ctx context.Context, q Query, out any) error
}

// ChangeNotice tells a watcher that documents matching its spec changed. It
// does not necessarily carry the changed document.
type ChangeNotice struct {
	Collection string
	Operation  string // insert, update, delete, or empty when unknown
	DocumentID string
	// Resync is set after the transport re-established the watch; changes
	// may have been missed while it was down.
	Resync bool
}

// WatchSpec selects the documents a watch is interested in.
type WatchSpec struct {
	Collection string
	Filter     map[string]any
}

// Watch is a live registration on a change feed.
type Watch interface {
	// Close stops delivery. Safe to call more than once.
	Close() error
}

// ChangeFeed is the subscribe-by-filter primitive of the remote data service.
// Implementations re-establish watches after transport failures on their own
// and report it with a Resync notice.
type ChangeFeed interface {
	Watch(ctx context.Context, spec WatchSpec, notify func(ChangeNotice)) (Watch, error)
}
