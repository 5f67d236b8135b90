// Package resolver is the authority on index name→uuid bindings.
//
// A single goroutine owns the sqlite binding table and an LRU lookup
// cache; every decision about a binding is made by that goroutine, one
// request at a time. Callers hold a Resolver handle, which may be
// copied freely and used from any number of goroutines.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/validation"
)

const defaultCacheSize = 1024

type op int

const (
	opCreate op = iota
	opGetOrCreate
	opResolve
	opDelete
	opList
	opSwap
)

// request is the resolver inbox message. The reply channel has
// capacity 1 so the loop never blocks on a caller that went away.
type request struct {
	ctx    context.Context
	op     op
	name   string
	target string // second name for swap
	reply  chan response
}

type response struct {
	id       uuid.UUID
	bindings map[string]uuid.UUID
	err      error
}

// Resolver is a cloneable handle to the binding loop.
type Resolver struct {
	inbox chan request
	stop  chan struct{}
	done  chan struct{}
	once  *sync.Once
}

// New opens the binding store at path (empty path keeps bindings in
// memory) and starts the resolver loop. cacheSize bounds the lookup
// cache; non-positive values fall back to the default.
func New(path string, cacheSize int) (Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	st, err := openStore(path)
	if err != nil {
		return Resolver{}, sterrors.New(sterrors.CodeIndexCorrupted, "failed to open uuid store", err)
	}

	cache, err := lru.New[string, uuid.UUID](cacheSize)
	if err != nil {
		_ = st.close()
		return Resolver{}, sterrors.InternalError("failed to build resolver cache", err)
	}

	r := Resolver{
		inbox: make(chan request),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		once:  new(sync.Once),
	}

	l := &loop{store: st, cache: cache}
	go l.run(r.inbox, r.stop, r.done)

	return r, nil
}

// Create binds name to a fresh uuid. Fails with an already-exists
// error when the name is bound; duplicate creation is never treated as
// idempotent.
func (r Resolver) Create(ctx context.Context, name string) (uuid.UUID, error) {
	resp := r.call(ctx, request{op: opCreate, name: name})
	return resp.id, resp.err
}

// GetOrCreate returns the existing binding for name, creating one when
// absent. Repeated calls with the same name return the same uuid.
func (r Resolver) GetOrCreate(ctx context.Context, name string) (uuid.UUID, error) {
	resp := r.call(ctx, request{op: opGetOrCreate, name: name})
	return resp.id, resp.err
}

// Resolve looks up the binding for name without mutating anything.
func (r Resolver) Resolve(ctx context.Context, name string) (uuid.UUID, error) {
	resp := r.call(ctx, request{op: opResolve, name: name})
	return resp.id, resp.err
}

// Delete unbinds name and returns the uuid it held.
func (r Resolver) Delete(ctx context.Context, name string) (uuid.UUID, error) {
	resp := r.call(ctx, request{op: opDelete, name: name})
	return resp.id, resp.err
}

// List returns every binding.
func (r Resolver) List(ctx context.Context) (map[string]uuid.UUID, error) {
	resp := r.call(ctx, request{op: opList})
	return resp.bindings, resp.err
}

// Swap atomically exchanges the uuids bound to a and b. Both names
// must be bound; on failure neither binding changes.
func (r Resolver) Swap(ctx context.Context, a, b string) error {
	resp := r.call(ctx, request{op: opSwap, name: a, target: b})
	return resp.err
}

// Close stops the loop and waits for it to release the store.
// Safe to call more than once; calls racing a Close receive an
// unavailable error instead of blocking.
func (r Resolver) Close() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r Resolver) call(ctx context.Context, req request) response {
	req.ctx = ctx
	req.reply = make(chan response, 1)

	select {
	case r.inbox <- req:
	case <-r.done:
		return response{err: sterrors.Unavailable("uuid resolver")}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-r.done:
		// The loop replies before it can observe a stop, so a
		// buffered reply may still be waiting when done closes.
		select {
		case resp := <-req.reply:
			return resp
		default:
			return response{err: sterrors.Unavailable("uuid resolver")}
		}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// loop owns the store and cache. Only run touches them.
type loop struct {
	store *store
	cache *lru.Cache[string, uuid.UUID]
}

func (l *loop) run(inbox <-chan request, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case req := <-inbox:
			req.reply <- l.handle(req)
		case <-stop:
			if err := l.store.close(); err != nil {
				slog.Warn("uuid store close failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (l *loop) handle(req request) response {
	switch req.op {
	case opCreate:
		return l.create(req.ctx, req.name)
	case opGetOrCreate:
		return l.getOrCreate(req.ctx, req.name)
	case opResolve:
		return l.resolve(req.ctx, req.name)
	case opDelete:
		return l.delete(req.ctx, req.name)
	case opList:
		return l.list(req.ctx)
	case opSwap:
		return l.swap(req.ctx, req.name, req.target)
	default:
		return response{err: sterrors.InternalError("unknown resolver op", nil)}
	}
}

func (l *loop) create(ctx context.Context, name string) response {
	if err := validation.IndexUID(name); err != nil {
		return response{err: err}
	}

	_, found, err := l.store.lookup(ctx, name)
	if err != nil {
		return response{err: sterrors.InternalError("uuid store lookup failed", err)}
	}
	if found {
		return response{err: sterrors.IndexAlreadyExists(name)}
	}

	id := uuid.New()
	if err := l.store.insert(ctx, name, id); err != nil {
		return response{err: sterrors.InternalError("uuid store insert failed", err)}
	}
	l.cache.Add(name, id)

	slog.Debug("index uid bound",
		slog.String("uid", name),
		slog.String("uuid", id.String()))
	return response{id: id}
}

func (l *loop) getOrCreate(ctx context.Context, name string) response {
	if id, ok := l.cache.Get(name); ok {
		return response{id: id}
	}

	id, found, err := l.store.lookup(ctx, name)
	if err != nil {
		return response{err: sterrors.InternalError("uuid store lookup failed", err)}
	}
	if found {
		l.cache.Add(name, id)
		return response{id: id}
	}

	return l.create(ctx, name)
}

func (l *loop) resolve(ctx context.Context, name string) response {
	if id, ok := l.cache.Get(name); ok {
		return response{id: id}
	}

	id, found, err := l.store.lookup(ctx, name)
	if err != nil {
		return response{err: sterrors.InternalError("uuid store lookup failed", err)}
	}
	if !found {
		return response{err: sterrors.IndexNotFound(name)}
	}

	l.cache.Add(name, id)
	return response{id: id}
}

func (l *loop) delete(ctx context.Context, name string) response {
	id, found, err := l.store.lookup(ctx, name)
	if err != nil {
		return response{err: sterrors.InternalError("uuid store lookup failed", err)}
	}
	if !found {
		return response{err: sterrors.IndexNotFound(name)}
	}

	if _, err := l.store.remove(ctx, name); err != nil {
		return response{err: sterrors.InternalError("uuid store delete failed", err)}
	}
	l.cache.Remove(name)

	slog.Debug("index uid unbound",
		slog.String("uid", name),
		slog.String("uuid", id.String()))
	return response{id: id}
}

func (l *loop) list(ctx context.Context) response {
	bindings, err := l.store.list(ctx)
	if err != nil {
		return response{err: sterrors.InternalError("uuid store list failed", err)}
	}
	return response{bindings: bindings}
}

func (l *loop) swap(ctx context.Context, a, b string) response {
	if err := l.store.swap(ctx, a, b); err != nil {
		var unbound errUnbound
		if errors.As(err, &unbound) {
			return response{err: sterrors.IndexNotFound(string(unbound))}
		}
		return response{err: sterrors.InternalError("uuid store swap failed", err)}
	}

	// Cached entries for both names are stale now.
	l.cache.Remove(a)
	l.cache.Remove(b)
	return response{}
}
