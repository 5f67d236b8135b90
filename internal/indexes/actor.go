// Package indexes hosts the actor that owns every live index: its
// engine instance, its metadata sidecar, and its directory on disk.
//
// The actor goroutine owns the uuid→index map; creating and deleting
// indexes happens inline on the loop. Engine I/O runs on per-request
// goroutines so a slow search or a large document batch never blocks
// the map. Same-index mutations still never overlap because the update
// pipeline dispatches at most one per index.
package indexes

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/updates"
)

type op int

const (
	opCreate op = iota
	opGetMeta
	opListMetas
	opSetPrimaryKey
	opDelete
	opSearch
	opStats
	opSettings
	opDocuments
	opDocument
	opUpdate
)

// request is the actor inbox message. The reply channel has capacity 1
// so neither the loop nor a request goroutine blocks on a caller that
// went away.
type request struct {
	ctx     context.Context
	op      op
	index   uuid.UUID
	primary string
	query   engine.SearchQuery
	meta    updates.Meta
	payload io.Reader
	docID   string
	offset  int
	limit   int
	reply   chan response
}

type response struct {
	meta     Metadata
	metas    map[uuid.UUID]Metadata
	stats    engine.IndexStats
	search   engine.SearchResult
	settings engine.Settings
	result   engine.UpdateResult
	docs     []map[string]any
	doc      map[string]any
	err      error
}

// IndexActor is a cloneable handle to the index loop.
type IndexActor struct {
	inbox chan request
	stop  chan struct{}
	done  chan struct{}
	once  *sync.Once
}

// New scans dir for existing index directories, reopens each of them,
// and starts the actor. A directory that cannot be reopened fails the
// whole startup: index data is authoritative and silently dropping an
// index would leave names resolving to nothing.
func New(dir string, opener engine.Opener) (IndexActor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return IndexActor{}, sterrors.InternalError("failed to create index data directory", err)
	}

	l := &loop{
		dir:     dir,
		opener:  opener,
		entries: make(map[uuid.UUID]*entry),
	}
	if err := l.reopen(); err != nil {
		l.closeAll()
		return IndexActor{}, err
	}

	x := IndexActor{
		inbox: make(chan request),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		once:  new(sync.Once),
	}
	go l.run(x.inbox, x.stop, x.done)

	return x, nil
}

// CreateIndex instantiates an engine for index if none exists. Calling
// it again for a live uuid returns the existing metadata unchanged:
// duplicate-name policing already happened in the resolver, so a second
// arrival for the same uuid can only be a retry.
func (x IndexActor) CreateIndex(ctx context.Context, index uuid.UUID, primaryKey string) (Metadata, error) {
	resp := x.call(ctx, request{op: opCreate, index: index, primary: primaryKey})
	return resp.meta, resp.err
}

// GetMeta returns the metadata for one index.
func (x IndexActor) GetMeta(ctx context.Context, index uuid.UUID) (Metadata, error) {
	resp := x.call(ctx, request{op: opGetMeta, index: index})
	return resp.meta, resp.err
}

// ListMetas returns the metadata of every live index.
func (x IndexActor) ListMetas(ctx context.Context) (map[uuid.UUID]Metadata, error) {
	resp := x.call(ctx, request{op: opListMetas})
	return resp.metas, resp.err
}

// UpdatePrimaryKey sets the primary key of an index that does not have
// one yet. The key is set-once; changing it would orphan every
// document already indexed under the old key.
func (x IndexActor) UpdatePrimaryKey(ctx context.Context, index uuid.UUID, primaryKey string) (Metadata, error) {
	resp := x.call(ctx, request{op: opSetPrimaryKey, index: index, primary: primaryKey})
	return resp.meta, resp.err
}

// Delete closes the index's engine and removes its directory. It waits
// for in-flight operations on that index to finish first.
func (x IndexActor) Delete(ctx context.Context, index uuid.UUID) error {
	resp := x.call(ctx, request{op: opDelete, index: index})
	return resp.err
}

// Search runs a query against one index.
func (x IndexActor) Search(ctx context.Context, index uuid.UUID, query engine.SearchQuery) (engine.SearchResult, error) {
	resp := x.call(ctx, request{op: opSearch, index: index, query: query})
	return resp.search, resp.err
}

// Stats reports document and field counts for one index. IsIndexing is
// left false; the controller fills it from queue state.
func (x IndexActor) Stats(ctx context.Context, index uuid.UUID) (engine.IndexStats, error) {
	resp := x.call(ctx, request{op: opStats, index: index})
	return resp.stats, resp.err
}

// Settings returns the current settings of one index.
func (x IndexActor) Settings(ctx context.Context, index uuid.UUID) (engine.Settings, error) {
	resp := x.call(ctx, request{op: opSettings, index: index})
	return resp.settings, resp.err
}

// Documents returns a window of documents ordered by id.
func (x IndexActor) Documents(ctx context.Context, index uuid.UUID, offset, limit int) ([]map[string]any, error) {
	resp := x.call(ctx, request{op: opDocuments, index: index, offset: offset, limit: limit})
	return resp.docs, resp.err
}

// Document returns one document by id.
func (x IndexActor) Document(ctx context.Context, index uuid.UUID, id string) (map[string]any, error) {
	resp := x.call(ctx, request{op: opDocument, index: index, docID: id})
	return resp.doc, resp.err
}

// Update applies one dequeued update to its index, dispatching on the
// meta variant. This is the entry point the update pipeline calls; the
// payload reader is non-nil only for document additions.
func (x IndexActor) Update(ctx context.Context, index uuid.UUID, meta updates.Meta, payload io.Reader) (engine.UpdateResult, error) {
	resp := x.call(ctx, request{op: opUpdate, index: index, meta: meta, payload: payload})
	return resp.result, resp.err
}

// Close stops the loop, waits out in-flight engine calls, and closes
// every engine. Safe to call more than once.
func (x IndexActor) Close() {
	x.once.Do(func() {
		close(x.stop)
		<-x.done
	})
}

func (x IndexActor) call(ctx context.Context, req request) response {
	req.ctx = ctx
	req.reply = make(chan response, 1)

	select {
	case x.inbox <- req:
	case <-x.done:
		return response{err: sterrors.Unavailable("index actor")}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-x.done:
		// The loop replies before it can observe a stop, so a
		// buffered reply may still be waiting when done closes.
		select {
		case resp := <-req.reply:
			return resp
		default:
			return response{err: sterrors.Unavailable("index actor")}
		}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// entry is one live index. The loop owns the map slot; meta is guarded
// by mu because update goroutines persist inferred primary keys while
// the loop serves metadata reads.
type entry struct {
	dir string
	eng engine.Engine

	mu   sync.RWMutex
	meta Metadata

	wg sync.WaitGroup
}

// snapshot returns the metadata under the read lock.
func (e *entry) snapshot() Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta
}

// commit records a successful mutation: adopts an inferred primary key
// if the index had none and refreshes the update timestamp.
func (e *entry) commit(inferredPK string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inferredPK != "" && e.meta.PrimaryKey == "" {
		e.meta.PrimaryKey = inferredPK
	}
	e.meta.UpdatedAt = time.Now().UTC()
	if err := saveMetadata(e.dir, e.meta); err != nil {
		slog.Warn("failed to persist index metadata",
			slog.String("uuid", e.meta.UUID.String()),
			slog.String("error", err.Error()))
	}
}

// loop owns the entry map. Only run and the functions it calls touch
// the map; engine I/O is handed to per-request goroutines.
type loop struct {
	dir     string
	opener  engine.Opener
	entries map[uuid.UUID]*entry
}

// reopen rebuilds the live set from the data directory.
func (l *loop) reopen() error {
	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		return sterrors.InternalError("failed to scan index data directory", err)
	}

	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		id, err := uuid.Parse(de.Name())
		if err != nil {
			slog.Warn("skipping foreign directory in index data dir", slog.String("name", de.Name()))
			continue
		}
		dir := filepath.Join(l.dir, de.Name())

		eng, err := l.opener.Open(dir)
		if err != nil {
			return err
		}
		meta, err := loadMetadata(dir)
		if os.IsNotExist(err) {
			// The sidecar went missing; rebuild it so the index
			// stays addressable.
			meta = newMetadata(id, "")
			err = saveMetadata(dir, meta)
		}
		if err != nil {
			_ = eng.Close()
			return sterrors.InternalError("failed to load index metadata", err)
		}

		l.entries[id] = &entry{dir: dir, eng: eng, meta: meta}
	}

	if len(l.entries) > 0 {
		slog.Info("reopened indexes", slog.Int("count", len(l.entries)))
	}
	return nil
}

func (l *loop) closeAll() {
	for id, e := range l.entries {
		e.wg.Wait()
		if err := e.eng.Close(); err != nil {
			slog.Warn("engine close failed",
				slog.String("uuid", id.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (l *loop) run(inbox <-chan request, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case req := <-inbox:
			l.handle(req)
		case <-stop:
			l.closeAll()
			return
		}
	}
}

// handle replies inline for map-level operations and hands engine I/O
// to a goroutine tracked by the entry's WaitGroup.
func (l *loop) handle(req request) {
	switch req.op {
	case opCreate:
		req.reply <- l.create(req)
	case opGetMeta:
		req.reply <- l.getMeta(req)
	case opListMetas:
		req.reply <- l.listMetas()
	case opSetPrimaryKey:
		req.reply <- l.setPrimaryKey(req)
	case opDelete:
		l.delete(req)
	default:
		e, ok := l.entries[req.index]
		if !ok {
			req.reply <- response{err: sterrors.IndexNotFound(req.index.String())}
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			req.reply <- serve(e, req)
		}()
	}
}

func (l *loop) create(req request) response {
	if e, ok := l.entries[req.index]; ok {
		return response{meta: e.snapshot()}
	}

	dir := filepath.Join(l.dir, req.index.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return response{err: sterrors.InternalError("failed to create index directory", err)}
	}
	eng, err := l.opener.Open(dir)
	if err != nil {
		return response{err: err}
	}
	meta := newMetadata(req.index, req.primary)
	if err := saveMetadata(dir, meta); err != nil {
		_ = eng.Close()
		return response{err: sterrors.InternalError("failed to persist index metadata", err)}
	}

	l.entries[req.index] = &entry{dir: dir, eng: eng, meta: meta}
	slog.Debug("index instantiated",
		slog.String("uuid", req.index.String()),
		slog.String("primaryKey", req.primary))
	return response{meta: meta}
}

func (l *loop) getMeta(req request) response {
	e, ok := l.entries[req.index]
	if !ok {
		return response{err: sterrors.IndexNotFound(req.index.String())}
	}
	return response{meta: e.snapshot()}
}

func (l *loop) listMetas() response {
	metas := make(map[uuid.UUID]Metadata, len(l.entries))
	for id, e := range l.entries {
		metas[id] = e.snapshot()
	}
	return response{metas: metas}
}

func (l *loop) setPrimaryKey(req request) response {
	e, ok := l.entries[req.index]
	if !ok {
		return response{err: sterrors.IndexNotFound(req.index.String())}
	}
	if req.primary == "" {
		return response{err: sterrors.Newf(sterrors.CodeInvalidPrimaryKey, "primary key must not be empty")}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta.PrimaryKey != "" {
		return response{err: sterrors.Newf(sterrors.CodePrimaryKeyPresent,
			"index already has primary key %q", e.meta.PrimaryKey)}
	}
	e.meta.PrimaryKey = req.primary
	e.meta.UpdatedAt = time.Now().UTC()
	if err := saveMetadata(e.dir, e.meta); err != nil {
		return response{err: sterrors.InternalError("failed to persist index metadata", err)}
	}
	return response{meta: e.meta}
}

// delete removes the entry from the map inline, then finishes on a
// goroutine so waiting out in-flight operations does not stall other
// indexes.
func (l *loop) delete(req request) {
	e, ok := l.entries[req.index]
	if !ok {
		req.reply <- response{err: sterrors.IndexNotFound(req.index.String())}
		return
	}
	delete(l.entries, req.index)

	go func() {
		e.wg.Wait()
		if err := e.eng.Close(); err != nil {
			slog.Warn("engine close failed",
				slog.String("uuid", req.index.String()),
				slog.String("error", err.Error()))
		}
		if err := os.RemoveAll(e.dir); err != nil {
			req.reply <- response{err: sterrors.InternalError("failed to remove index directory", err)}
			return
		}
		slog.Debug("index removed", slog.String("uuid", req.index.String()))
		req.reply <- response{}
	}()
}

// serve runs one engine call on behalf of a request goroutine.
func serve(e *entry, req request) response {
	switch req.op {
	case opSearch:
		res, err := e.eng.Search(req.ctx, req.query)
		if err != nil {
			return response{err: err}
		}
		return response{search: res}
	case opStats:
		stats, err := e.eng.Stats(req.ctx)
		if err != nil {
			return response{err: err}
		}
		return response{stats: stats}
	case opSettings:
		settings, err := e.eng.Settings(req.ctx)
		if err != nil {
			return response{err: err}
		}
		return response{settings: settings}
	case opDocuments:
		docs, err := e.eng.Documents(req.ctx, req.offset, req.limit)
		if err != nil {
			return response{err: err}
		}
		return response{docs: docs}
	case opDocument:
		doc, err := e.eng.Document(req.ctx, req.docID)
		if err != nil {
			return response{err: err}
		}
		return response{doc: doc}
	case opUpdate:
		return applyUpdate(e, req)
	default:
		return response{err: sterrors.InternalError("unknown index op", nil)}
	}
}

// applyUpdate dispatches one update on its meta variant.
func applyUpdate(e *entry, req request) response {
	var result engine.UpdateResult
	var err error

	switch req.meta.Type {
	case updates.MetaDocumentsAddition:
		current := e.snapshot().PrimaryKey
		requested := req.meta.PrimaryKey
		if requested != "" && current != "" && requested != current {
			return response{err: sterrors.Newf(sterrors.CodePrimaryKeyPresent,
				"index already has primary key %q", current)}
		}
		effective := current
		if effective == "" {
			effective = requested
		}
		result, err = e.eng.AddDocuments(req.ctx, req.meta.Method, req.meta.Format, req.payload, effective)
	case updates.MetaClearDocuments:
		result, err = e.eng.ClearDocuments(req.ctx)
	case updates.MetaDeleteDocuments:
		result, err = e.eng.DeleteDocuments(req.ctx, req.meta.DocumentIDs)
	case updates.MetaSettings:
		if req.meta.Settings == nil {
			return response{err: sterrors.Newf(sterrors.CodeBadPayloadFormat, "settings update carries no settings")}
		}
		result, err = e.eng.ApplySettings(req.ctx, *req.meta.Settings)
	case updates.MetaFacets:
		if req.meta.Facets == nil {
			return response{err: sterrors.Newf(sterrors.CodeBadPayloadFormat, "facets update carries no facets")}
		}
		result, err = e.eng.ApplyFacets(req.ctx, *req.meta.Facets)
	default:
		return response{err: sterrors.InternalError("unknown update variant", nil)}
	}

	if err != nil {
		return response{err: err}
	}
	e.commit(result.PrimaryKey)
	return response{result: result}
}
