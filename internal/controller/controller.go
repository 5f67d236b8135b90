// Package controller composes the resolver, index, and update actors
// behind one facade. It owns the name-resolution policy: adding
// documents auto-creates the binding for an unknown uid, every other
// operation requires the name to exist already.
package controller

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/steladb/stela/internal/analytics"
	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/indexes"
	"github.com/steladb/stela/internal/metrics"
	"github.com/steladb/stela/internal/resolver"
	"github.com/steladb/stela/internal/updates"
)

const (
	defaultStreamBuffer = 10
	forwardChunkSize    = 64 * 1024
)

// Index is the public description of one index: the user-facing uid
// joined with the actor-side metadata.
type Index struct {
	UID        string    `json:"uid"`
	UUID       uuid.UUID `json:"uuid"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	PrimaryKey string    `json:"primaryKey,omitempty"`
}

// IndexSettings is the transient request payload for index creation
// and update.
type IndexSettings struct {
	UID        string `json:"uid"`
	PrimaryKey string `json:"primaryKey,omitempty"`
}

// Controller is the facade the transport layer talks to.
type Controller struct {
	resolver  resolver.Resolver
	indexes   indexes.IndexActor
	updates   updates.UpdateActor
	analytics analytics.Publisher
	streamBuf int
}

// New starts the actors in dependency order and wires them together.
// A failure tears down the actors already running.
func New(cfg *config.Config, publisher analytics.Publisher) (*Controller, error) {
	if publisher == nil {
		publisher = analytics.Noop{}
	}

	res, err := resolver.New(cfg.ResolverPath(), cfg.Resolver.CacheSize)
	if err != nil {
		return nil, err
	}
	idx, err := indexes.New(cfg.IndexesDir(), engine.LocalOpener{})
	if err != nil {
		res.Close()
		return nil, err
	}
	upd, err := updates.New(cfg.UpdatesDir(), cfg.EffectiveSpoolDir(), idx.Update)
	if err != nil {
		idx.Close()
		res.Close()
		return nil, err
	}

	streamBuf := cfg.Updates.StreamBuffer
	if streamBuf <= 0 {
		streamBuf = defaultStreamBuffer
	}

	return &Controller{
		resolver:  res,
		indexes:   idx,
		updates:   upd,
		analytics: publisher,
		streamBuf: streamBuf,
	}, nil
}

// UpdateLog exposes the update actor's storage handle for metrics.
func (c *Controller) UpdateLog() *pebble.DB {
	return c.updates.StatusLog()
}

// Close stops the actors in dependency order: updates first so nothing
// keeps feeding the index actor, the resolver last.
func (c *Controller) Close() {
	c.updates.Close()
	c.indexes.Close()
	c.resolver.Close()
}

// CreateIndex binds a fresh index to settings.UID. Duplicate uids are
// an error, never idempotent.
func (c *Controller) CreateIndex(ctx context.Context, settings IndexSettings) (Index, error) {
	if settings.UID == "" {
		return Index{}, sterrors.Newf(sterrors.CodeInvalidIndexUID, "index uid is required")
	}

	id, err := c.resolver.Create(ctx, settings.UID)
	if err != nil {
		return Index{}, err
	}
	meta, err := c.indexes.CreateIndex(ctx, id, settings.PrimaryKey)
	if err != nil {
		// Unbind so the name does not point at a dead uuid.
		if _, derr := c.resolver.Delete(ctx, settings.UID); derr != nil {
			slog.Warn("failed to unbind index after create failure",
				slog.String("uid", settings.UID),
				slog.String("error", derr.Error()))
		}
		return Index{}, err
	}

	c.analytics.Publish("Index Created", map[string]any{
		"primaryKey": settings.PrimaryKey != "",
	})
	return view(settings.UID, meta), nil
}

// GetIndex returns one index by uid.
func (c *Controller) GetIndex(ctx context.Context, uid string) (Index, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return Index{}, err
	}
	meta, err := c.indexes.GetMeta(ctx, id)
	if err != nil {
		return Index{}, err
	}
	return view(uid, meta), nil
}

// ListIndexes returns every index sorted by uid. A binding whose index
// cannot be loaded is skipped rather than failing the whole listing.
func (c *Controller) ListIndexes(ctx context.Context) ([]Index, error) {
	bindings, err := c.resolver.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]Index, 0, len(bindings))
	for uid, id := range bindings {
		meta, err := c.indexes.GetMeta(ctx, id)
		if err != nil {
			slog.Warn("skipping unloadable index in listing",
				slog.String("uid", uid),
				slog.String("error", err.Error()))
			continue
		}
		views = append(views, view(uid, meta))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UID < views[j].UID })
	return views, nil
}

// UpdateIndex changes index-level settings. The uid is identity and
// cannot be renamed; the primary key is set-once.
func (c *Controller) UpdateIndex(ctx context.Context, uid string, settings IndexSettings) (Index, error) {
	if settings.UID != "" && settings.UID != uid {
		return Index{}, sterrors.Newf(sterrors.CodeImmutableIndexUID, "index uid cannot be changed")
	}

	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return Index{}, err
	}

	if settings.PrimaryKey == "" {
		meta, err := c.indexes.GetMeta(ctx, id)
		if err != nil {
			return Index{}, err
		}
		return view(uid, meta), nil
	}

	meta, err := c.indexes.UpdatePrimaryKey(ctx, id, settings.PrimaryKey)
	if err != nil {
		return Index{}, err
	}
	return view(uid, meta), nil
}

// DeleteIndex unbinds the name, drops the update history, and removes
// the index data.
func (c *Controller) DeleteIndex(ctx context.Context, uid string) error {
	id, err := c.resolver.Delete(ctx, uid)
	if err != nil {
		return err
	}
	if err := c.updates.DeleteIndex(ctx, id); err != nil {
		return err
	}
	if err := c.indexes.Delete(ctx, id); err != nil {
		return err
	}

	metrics.ForgetIndex(uid)
	c.analytics.Publish("Index Deleted", nil)
	return nil
}

// SwapIndexes atomically exchanges what two uids point at. Documents
// and update history stay with their uuid, so they travel to the other
// name.
func (c *Controller) SwapIndexes(ctx context.Context, a, b string) error {
	if err := c.resolver.Swap(ctx, a, b); err != nil {
		return err
	}
	c.analytics.Publish("Indexes Swapped", nil)
	return nil
}

// Search runs a query against one index.
func (c *Controller) Search(ctx context.Context, uid string, query engine.SearchQuery) (engine.SearchResult, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return engine.SearchResult{}, err
	}

	began := time.Now()
	result, err := c.indexes.Search(ctx, id, query)
	if err != nil {
		return engine.SearchResult{}, err
	}
	metrics.Searches.WithLabelValues(uid).Inc()
	metrics.SearchDuration.WithLabelValues(uid).Observe(time.Since(began).Seconds())
	return result, nil
}

// GetStats reports document counts plus whether updates are pending.
func (c *Controller) GetStats(ctx context.Context, uid string) (engine.IndexStats, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return engine.IndexStats{}, err
	}
	stats, err := c.indexes.Stats(ctx, id)
	if err != nil {
		return engine.IndexStats{}, err
	}
	pending, err := c.updates.PendingCount(ctx, id)
	if err != nil {
		return engine.IndexStats{}, err
	}
	stats.IsIndexing = pending > 0
	return stats, nil
}

// GetSettings returns the current engine settings of one index.
func (c *Controller) GetSettings(ctx context.Context, uid string) (engine.Settings, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return engine.Settings{}, err
	}
	return c.indexes.Settings(ctx, id)
}

// Documents returns a window of documents from one index.
func (c *Controller) Documents(ctx context.Context, uid string, offset, limit int) ([]map[string]any, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return nil, err
	}
	return c.indexes.Documents(ctx, id, offset, limit)
}

// Document returns one document by id.
func (c *Controller) Document(ctx context.Context, uid, docID string) (map[string]any, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return nil, err
	}
	return c.indexes.Document(ctx, id, docID)
}

// AddDocuments streams a document payload into the update pipeline.
// The uid is bound (and the index instantiated) if it does not exist
// yet. The forwarder goroutine starts before registration so neither
// side can wait on the other; the call returns once the update is
// durably enqueued and the payload fully handed over.
func (c *Controller) AddDocuments(ctx context.Context, uid string, method engine.AddMethod, format engine.PayloadFormat, payload io.Reader, primaryKey string) (updates.Status, error) {
	id, err := c.resolver.GetOrCreate(ctx, uid)
	if err != nil {
		return updates.Status{}, err
	}
	if _, err := c.indexes.CreateIndex(ctx, id, ""); err != nil {
		return updates.Status{}, err
	}

	ch := make(chan updates.Chunk, c.streamBuf)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(payload, ch, quit)
	}()

	meta := updates.DocumentsAddition(method, format, primaryKey)
	st, err := c.updates.Register(ctx, id, meta, ch)
	if err != nil {
		close(quit)
		<-done
		return updates.Status{}, err
	}

	// Hold the payload reader open until the forwarder is finished
	// with it; callers own the reader's lifetime.
	select {
	case <-done:
	case <-ctx.Done():
		close(quit)
		<-done
		return st, sterrors.TransportError("payload transfer canceled", ctx.Err())
	}

	c.analytics.Publish("Documents Added", map[string]any{
		"method": string(method),
		"format": string(format),
	})
	return st, nil
}

// forward copies the payload into the chunk channel, folding a read
// error into a terminal error chunk so the consumer observes exactly
// one terminating signal per upload.
func forward(r io.Reader, ch chan<- updates.Chunk, quit <-chan struct{}) {
	defer close(ch)

	buf := make([]byte, forwardChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case ch <- updates.Chunk{Data: data}:
			case <-quit:
				c := updates.Chunk{Err: context.Canceled}
				select {
				case ch <- c:
				default:
				}
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case ch <- updates.Chunk{Err: err}:
			case <-quit:
			}
			return
		}
	}
}

// ClearDocuments enqueues a full wipe of one index.
func (c *Controller) ClearDocuments(ctx context.Context, uid string) (updates.Status, error) {
	return c.enqueue(ctx, uid, updates.ClearDocuments())
}

// DeleteDocuments enqueues removal of the named documents.
func (c *Controller) DeleteDocuments(ctx context.Context, uid string, ids []string) (updates.Status, error) {
	return c.enqueue(ctx, uid, updates.DeleteDocuments(ids))
}

// UpdateSettings enqueues a settings change.
func (c *Controller) UpdateSettings(ctx context.Context, uid string, settings engine.Settings) (updates.Status, error) {
	return c.enqueue(ctx, uid, updates.SettingsUpdate(settings))
}

// UpdateFacets enqueues a faceting change.
func (c *Controller) UpdateFacets(ctx context.Context, uid string, facets engine.Facets) (updates.Status, error) {
	return c.enqueue(ctx, uid, updates.FacetsUpdate(facets))
}

// enqueue registers a payload-free update against an existing index.
// Unlike document addition, these never auto-create the binding.
func (c *Controller) enqueue(ctx context.Context, uid string, meta updates.Meta) (updates.Status, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return updates.Status{}, err
	}
	return c.updates.Register(ctx, id, meta, nil)
}

// UpdateStatus returns one update's status for an index.
func (c *Controller) UpdateStatus(ctx context.Context, uid string, updateID uint64) (updates.Status, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return updates.Status{}, err
	}
	return c.updates.Status(ctx, id, updateID)
}

// AllUpdateStatuses returns an index's whole update history in
// submission order.
func (c *Controller) AllUpdateStatuses(ctx context.Context, uid string) ([]updates.Status, error) {
	id, err := c.resolver.Resolve(ctx, uid)
	if err != nil {
		return nil, err
	}
	return c.updates.List(ctx, id)
}

func view(uid string, meta indexes.Metadata) Index {
	return Index{
		UID:        uid,
		UUID:       meta.UUID,
		CreatedAt:  meta.CreatedAt,
		UpdatedAt:  meta.UpdatedAt,
		PrimaryKey: meta.PrimaryKey,
	}
}
