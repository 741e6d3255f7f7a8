// Package versioned stores FHIR resources with optimistic versioning and an
// append-only history trail.
//
// Each resource type owns two collections: the current record of every id,
// keyed by id, and the history snapshots keyed by id and versionId. Writes
// append the history snapshot first and then promote the current record with
// a find-and-replace conditioned on the version that was read, so a crash
// can only leave history one version ahead of the current record. Reconcile
// removes such entries.
package versioned

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
)

// CreateResult is the outcome of Create.
type CreateResult struct {
	ID       string
	Resource docstore.Document
}

// UpdateResult is the outcome of Update. Created is true when no current
// record existed and Update inserted one.
type UpdateResult struct {
	ID              string
	Created         bool
	ResourceVersion string
	Resource        docstore.Document
}

// RemoveResult reports how many current records Remove deleted.
type RemoveResult struct {
	Deleted int64
}

// Change interactions.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Change describes a committed write.
type Change struct {
	Interaction  string
	ResourceType string
	ID           string
	VersionID    string
	At           time.Time
}

// Listener receives committed writes. It is called while the id is locked
// and must not block.
type Listener func(ctx context.Context, c Change)

// Store is the versioned store of one resource type.
type Store struct {
	resourceType string
	current      docstore.Collection
	history      docstore.Collection
	table        map[string]fhir.SearchParamConfig
	locks        *idLocks
	logger       zerolog.Logger
	now          func() time.Time
	listeners    []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the time source used for meta.lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithListener adds a listener notified of every committed write.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

// New creates the store of resourceType over its current and history
// collections. table holds the search parameters of the type.
func New(resourceType string, current, history docstore.Collection, table map[string]fhir.SearchParamConfig, opts ...Option) *Store {
	s := &Store{
		resourceType: resourceType,
		current:      current,
		history:      history,
		table:        table,
		locks:        newIDLocks(),
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("resource_type", resourceType).Logger()
	return s
}

// ResourceType returns the type the store serves.
func (s *Store) ResourceType() string { return s.resourceType }

// Count returns the number of current records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.current.Count(ctx)
	if err != nil {
		return 0, s.storageError("count", "", err)
	}
	return n, nil
}

// Search returns the current records matching params. No parameters
// returns the whole collection.
func (s *Store) Search(ctx context.Context, params []fhir.SearchParameter) ([]docstore.Document, error) {
	q, err := fhir.BuildQuery(params, s.table)
	if err != nil {
		return nil, err
	}
	docs, err := s.current.Find(ctx, q)
	if err != nil {
		return nil, s.storageError("search", "", err)
	}
	return docs, nil
}

// SearchByID returns the current record of id, or nil when there is none.
func (s *Store) SearchByID(ctx context.Context, id string) (docstore.Document, error) {
	doc, err := s.current.FindOne(ctx, docstore.ByID(id))
	if err != nil {
		return nil, s.storageError("search by id", id, err)
	}
	return doc, nil
}

// SearchByVersionID returns the history snapshot of id at versionID, or nil.
func (s *Store) SearchByVersionID(ctx context.Context, id, versionID string) (docstore.Document, error) {
	doc, err := s.history.FindOne(ctx, docstore.ByVersion(id, versionID))
	if err != nil {
		return nil, s.storageError("search by version", id, err)
	}
	return doc, nil
}

// History returns the history snapshots matching params.
func (s *Store) History(ctx context.Context, params []fhir.SearchParameter) ([]docstore.Document, error) {
	q, err := fhir.BuildQuery(params, s.table)
	if err != nil {
		return nil, err
	}
	docs, err := s.history.Find(ctx, q)
	if err != nil {
		return nil, s.storageError("history", "", err)
	}
	return docs, nil
}

// HistoryByID returns every history snapshot of id in storage order.
func (s *Store) HistoryByID(ctx context.Context, id string) ([]docstore.Document, error) {
	docs, err := s.history.Find(ctx, docstore.ByID(id))
	if err != nil {
		return nil, s.storageError("history by id", id, err)
	}
	return docs, nil
}

// Create stores payload as version 1 of id. It fails with ErrConflict when a
// current record for id exists.
func (s *Store) Create(ctx context.Context, id string, payload docstore.Document) (CreateResult, error) {
	unlock, err := s.lockID(ctx, id)
	if err != nil {
		return CreateResult{}, err
	}
	defer unlock()

	existing, err := s.current.FindOne(ctx, docstore.ByID(id))
	if err != nil {
		return CreateResult{}, s.storageError("create", id, err)
	}
	if existing != nil {
		return CreateResult{}, fmt.Errorf("%w: %s/%s already exists", fhir.ErrConflict, s.resourceType, id)
	}

	doc := s.stamp(payload, id, fhir.NewMeta(fhir.FirstVersion, s.now()).ToMap())
	if err := s.appendHistory(ctx, id, fhir.FirstVersion, doc); err != nil {
		return CreateResult{}, err
	}
	if _, err := s.current.Insert(ctx, id, doc); err != nil {
		return CreateResult{}, s.storageError("create", id, err)
	}

	s.logger.Debug().Str("id", id).Str("version", fhir.FirstVersion).Msg("resource created")
	s.notify(ctx, ChangeCreate, id, fhir.FirstVersion)
	return CreateResult{ID: id, Resource: doc}, nil
}

// Update writes payload as the next version of id, creating the resource
// at version 1 when absent. The history snapshot is appended before the
// current record is promoted; a concurrent writer that moved the current
// record in between turns the promote into ErrConflict.
func (s *Store) Update(ctx context.Context, id string, payload docstore.Document) (UpdateResult, error) {
	unlock, err := s.lockID(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	defer unlock()

	prev, err := s.current.FindOne(ctx, docstore.ByID(id))
	if err != nil {
		return UpdateResult{}, s.storageError("update", id, err)
	}

	var meta map[string]interface{}
	prevMeta := prev.Meta()
	if prev != nil && prevMeta != nil {
		n, err := strconv.Atoi(prev.VersionID())
		if err != nil {
			return UpdateResult{}, fmt.Errorf("%w: %s/%s has unusable versionId %q", fhir.ErrConflict, s.resourceType, id, prev.VersionID())
		}
		meta = make(map[string]interface{}, len(prevMeta))
		for k, v := range prevMeta {
			meta[k] = v
		}
		meta["versionId"] = strconv.Itoa(n + 1)
	} else {
		meta = fhir.NewMeta(fhir.FirstVersion, s.now()).ToMap()
	}
	version := meta["versionId"].(string)

	doc := s.stamp(payload, id, meta)
	if err := s.appendHistory(ctx, id, version, doc); err != nil {
		return UpdateResult{}, err
	}

	created := false
	switch {
	case prev == nil:
		if _, err := s.current.Insert(ctx, id, doc); err != nil {
			return UpdateResult{}, s.storageError("update", id, err)
		}
		created = true
	case prevMeta == nil:
		res, err := s.current.FindOneAndReplace(ctx, docstore.ByID(id), id, doc, docstore.ReplaceOptions{Upsert: true})
		if err != nil {
			return UpdateResult{}, s.storageError("update", id, err)
		}
		created = res.Inserted
	default:
		res, err := s.current.FindOneAndReplace(ctx, docstore.ByVersion(id, prev.VersionID()), id, doc, docstore.ReplaceOptions{})
		if err != nil {
			return UpdateResult{}, s.storageError("update", id, err)
		}
		if !res.Matched {
			s.logger.Warn().Str("id", id).Str("version", version).Msg("current record moved during update")
			return UpdateResult{}, fmt.Errorf("%w: %s/%s is no longer at version %s", fhir.ErrConflict, s.resourceType, id, prev.VersionID())
		}
	}

	s.logger.Debug().Str("id", id).Str("version", version).Bool("created", created).Msg("resource updated")
	if created {
		s.notify(ctx, ChangeCreate, id, version)
	} else {
		s.notify(ctx, ChangeUpdate, id, version)
	}
	return UpdateResult{ID: id, Created: created, ResourceVersion: version, Resource: doc}, nil
}

// Remove deletes the current record of id and then its whole history.
// Removing an absent id deletes nothing and is not an error. A failure of
// either delete is reported as ErrConflict.
func (s *Store) Remove(ctx context.Context, id string) (RemoveResult, error) {
	unlock, err := s.lockID(ctx, id)
	if err != nil {
		return RemoveResult{}, err
	}
	defer unlock()

	deleted, err := s.current.Delete(ctx, docstore.ByID(id))
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("remove current record failed")
		return RemoveResult{}, fmt.Errorf("%w: remove %s/%s: %w", fhir.ErrConflict, s.resourceType, id, err)
	}
	if _, err := s.history.Delete(ctx, docstore.ByID(id)); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("remove history failed")
		return RemoveResult{}, fmt.Errorf("%w: remove history of %s/%s: %w", fhir.ErrConflict, s.resourceType, id, err)
	}

	s.logger.Debug().Str("id", id).Int64("deleted", deleted).Msg("resource removed")
	if deleted > 0 {
		s.notify(ctx, ChangeDelete, id, "")
	}
	return RemoveResult{Deleted: deleted}, nil
}

// Reconcile deletes the history snapshots of id that are newer than its
// current record, the trace of a write interrupted between the history
// append and the promote. When id has no current record every snapshot is
// such a trace. It returns how many snapshots were deleted.
func (s *Store) Reconcile(ctx context.Context, id string) (int64, error) {
	unlock, err := s.lockID(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cur, err := s.current.FindOne(ctx, docstore.ByID(id))
	if err != nil {
		return 0, s.storageError("reconcile", id, err)
	}
	currentVersion := 0
	if cur != nil {
		if currentVersion, err = strconv.Atoi(cur.VersionID()); err != nil {
			return 0, fmt.Errorf("%w: %s/%s has unusable versionId %q", fhir.ErrConflict, s.resourceType, id, cur.VersionID())
		}
	}

	entries, err := s.history.Find(ctx, docstore.ByID(id))
	if err != nil {
		return 0, s.storageError("reconcile", id, err)
	}
	var removed int64
	for _, e := range entries {
		v, err := strconv.Atoi(e.VersionID())
		if err == nil && v <= currentVersion {
			continue
		}
		n, err := s.history.Delete(ctx, docstore.ByVersion(id, e.VersionID()))
		if err != nil {
			return removed, s.storageError("reconcile", id, err)
		}
		removed += n
	}

	if removed > 0 {
		s.logger.Info().Str("id", id).Int("version", currentVersion).Int64("removed", removed).Msg("orphaned history removed")
	}
	return removed, nil
}

// appendHistory inserts the snapshot of id at version. A snapshot already
// stored under the key is the trace of a write that never promoted, since
// the caller holds the id lock and read the current record below version;
// it is replaced. A snapshot the current record has already reached is
// ErrConflict.
func (s *Store) appendHistory(ctx context.Context, id, version string, doc docstore.Document) error {
	key := docstore.HistoryKey(id, version)
	_, err := s.history.Insert(ctx, key, doc)
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		return s.storageError("append history", id, err)
	}

	cur, err := s.current.FindOne(ctx, docstore.ByID(id))
	if err != nil {
		return s.storageError("append history", id, err)
	}
	want, _ := strconv.Atoi(version)
	if cur != nil {
		if n, err := strconv.Atoi(cur.VersionID()); err != nil || n >= want {
			return fmt.Errorf("%w: %s/%s version %s was written concurrently", fhir.ErrConflict, s.resourceType, id, version)
		}
	}

	res, err := s.history.FindOneAndReplace(ctx, docstore.ByVersion(id, version), key, doc, docstore.ReplaceOptions{})
	if err != nil {
		return s.storageError("append history", id, err)
	}
	if !res.Matched {
		return fmt.Errorf("%w: %s/%s version %s was removed concurrently", fhir.ErrConflict, s.resourceType, id, version)
	}
	s.logger.Info().Str("id", id).Str("version", version).Msg("unpromoted history snapshot replaced")
	return nil
}

// stamp copies payload and sets the id, the meta and, when missing, the
// resource type.
func (s *Store) stamp(payload docstore.Document, id string, meta map[string]interface{}) docstore.Document {
	doc := payload.Clone()
	if doc == nil {
		doc = docstore.Document{}
	}
	if _, ok := doc["resourceType"]; !ok {
		doc["resourceType"] = s.resourceType
	}
	doc["id"] = id
	doc["meta"] = meta
	return doc
}

// lockID waits for the write lock of id.
func (s *Store) lockID(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s/%s: %w", s.resourceType, id, err)
	}
	return unlock, nil
}

// notify reports a committed write to every listener.
func (s *Store) notify(ctx context.Context, interaction, id, version string) {
	if len(s.listeners) == 0 {
		return
	}
	c := Change{Interaction: interaction, ResourceType: s.resourceType, ID: id, VersionID: version, At: s.now()}
	for _, l := range s.listeners {
		l(ctx, c)
	}
}

// storageError maps an accessor failure to the store's error kinds.
func (s *Store) storageError(op, id string, err error) error {
	if errors.Is(err, docstore.ErrDuplicateKey) {
		return fmt.Errorf("%w: %s %s/%s: %w", fhir.ErrConflict, op, s.resourceType, id, err)
	}
	s.logger.Error().Err(err).Str("op", op).Str("id", id).Msg("storage failure")
	return fmt.Errorf("%w: %s: %w", fhir.ErrStorageUnavailable, op, err)
}
