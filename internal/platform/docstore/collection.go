package docstore

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateKey is returned when an insert hits an existing key.
	ErrDuplicateKey = errors.New("docstore: duplicate key")
	// ErrClosed is returned by collections of a closed database.
	ErrClosed = errors.New("docstore: database closed")
)

// ReplaceOptions tunes FindOneAndReplace.
type ReplaceOptions struct {
	// Upsert inserts the document at key when nothing matches.
	Upsert bool
}

// ReplaceResult reports what FindOneAndReplace did.
type ReplaceResult struct {
	// Previous is the replaced document, nil when nothing matched.
	Previous Document
	// Matched is true when an existing document was replaced.
	Matched bool
	// Inserted is true when the upsert path wrote a new document.
	Inserted bool
}

// Collection is the accessor for one named set of documents. Every
// document is stored under a unique key.
type Collection interface {
	Name() string
	Count(ctx context.Context) (int64, error)
	// Find returns every document matching q in storage order.
	Find(ctx context.Context, q Query) ([]Document, error)
	// FindOne returns the first match, or nil, nil when none.
	FindOne(ctx context.Context, q Query) (Document, error)
	// Insert stores doc under key and returns it. ErrDuplicateKey when taken.
	Insert(ctx context.Context, key string, doc Document) (Document, error)
	// FindOneAndReplace atomically swaps the first document matching q for
	// doc. With opts.Upsert and no match, doc is inserted under key; if key
	// is held by a non-matching document ErrDuplicateKey is returned.
	FindOneAndReplace(ctx context.Context, q Query, key string, doc Document, opts ReplaceOptions) (ReplaceResult, error)
	// Delete removes every match and returns how many went.
	Delete(ctx context.Context, q Query) (int64, error)
}

// Database hands out collections by name.
type Database interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close() error
}

// HistoryCollectionName is the name of the history collection of a
// resource type.
func HistoryCollectionName(resourceType string) string {
	return resourceType + "History"
}

// HistoryKey is the storage key of one version of a resource.
func HistoryKey(id, versionID string) string {
	return id + "/_history/" + versionID
}
