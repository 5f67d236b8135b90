package updates

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/metrics"
)

// Chunk is one piece of a streamed payload. A non-nil Err terminates
// the stream and records why the producer side gave up; after an Err
// no further chunks arrive.
type Chunk struct {
	Data []byte
	Err  error
}

// Applier executes one dequeued update against the index that owns it.
// The payload reader is non-nil only for DocumentsAddition.
type Applier func(ctx context.Context, index uuid.UUID, meta Meta, payload io.Reader) (engine.UpdateResult, error)

type op int

const (
	opRegister op = iota
	opStatus
	opList
	opDeleteIndex
	opPendingCount
)

// request is the actor inbox message. The reply channel has capacity 1
// so the loop never blocks on a caller that went away.
type request struct {
	op      op
	index   uuid.UUID
	meta    Meta
	payload <-chan Chunk
	id      uint64
	reply   chan response
}

type response struct {
	status   Status
	statuses []Status
	pending  int
	err      error
}

// UpdateActor is a cloneable handle to the update pipeline.
type UpdateActor struct {
	inbox chan request
	stop  chan struct{}
	done  chan struct{}
	once  *sync.Once
	db    *pebble.DB
}

// New opens the status log at path and starts the actor. Updates left
// unfinished by the previous run are finalized as Failed before the
// loop starts: statuses are durable but payloads are not, so an
// interrupted update can never be replayed. spoolDir is where payloads
// wait on disk during processing; empty means the system temp dir.
func New(path, spoolDir string, apply Applier) (UpdateActor, error) {
	if spoolDir != "" {
		if err := os.MkdirAll(spoolDir, 0o755); err != nil {
			return UpdateActor{}, sterrors.New(sterrors.CodeConfigInvalid, "failed to create spool directory", err)
		}
	}

	st, err := openStore(path)
	if err != nil {
		return UpdateActor{}, err
	}
	if err := recoverStatuses(st); err != nil {
		_ = st.close()
		return UpdateActor{}, err
	}

	a := UpdateActor{
		inbox: make(chan request),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		once:  new(sync.Once),
		db:    st.db,
	}

	l := &loop{
		store:     st,
		apply:     apply,
		spoolDir:  spoolDir,
		queues:    make(map[uuid.UUID][]queued),
		inflight:  make(map[uuid.UUID]bool),
		condemned: make(map[uuid.UUID]bool),
		events:    make(chan outcome),
	}
	go l.run(a.inbox, a.stop, a.done)

	return a, nil
}

// recoverStatuses finalizes every non-terminal status left over from a
// previous run, so that each accepted update still reaches exactly one
// terminal state.
func recoverStatuses(s *store) error {
	type orphan struct {
		index uuid.UUID
		st    Status
	}
	var orphans []orphan
	err := s.each(func(index uuid.UUID, st Status) error {
		if !st.State.Terminal() {
			orphans = append(orphans, orphan{index: index, st: st})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, o := range orphans {
		failed, err := o.st.Fail(sterrors.Newf(sterrors.CodeInternal, "interrupted by shutdown before completion"))
		if err != nil {
			return err
		}
		if err := s.put(o.index, failed); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		slog.Info("finalized interrupted updates", slog.Int("count", len(orphans)))
	}
	return nil
}

// Register durably records an update as Enqueued and returns its
// status. It never waits for execution: the payload channel is consumed
// later, by the processing side, once the update reaches the head of
// its index's queue. Registration itself never reads the channel, so
// the producer and the registration call have no ordering dependency.
func (a UpdateActor) Register(ctx context.Context, index uuid.UUID, meta Meta, payload <-chan Chunk) (Status, error) {
	resp := a.call(ctx, request{op: opRegister, index: index, meta: meta, payload: payload})
	return resp.status, resp.err
}

// Status returns one update's current status.
func (a UpdateActor) Status(ctx context.Context, index uuid.UUID, id uint64) (Status, error) {
	resp := a.call(ctx, request{op: opStatus, index: index, id: id})
	return resp.status, resp.err
}

// List returns every update for an index in submission order.
func (a UpdateActor) List(ctx context.Context, index uuid.UUID) ([]Status, error) {
	resp := a.call(ctx, request{op: opList, index: index})
	return resp.statuses, resp.err
}

// DeleteIndex drops the queue and the status history for an index.
// An update already in flight runs to completion but its terminal
// status is discarded.
func (a UpdateActor) DeleteIndex(ctx context.Context, index uuid.UUID) error {
	resp := a.call(ctx, request{op: opDeleteIndex, index: index})
	return resp.err
}

// PendingCount reports how many updates are queued or in flight.
func (a UpdateActor) PendingCount(ctx context.Context, index uuid.UUID) (int, error) {
	resp := a.call(ctx, request{op: opPendingCount, index: index})
	return resp.pending, resp.err
}

// StatusLog exposes the underlying pebble handle so storage metrics can
// be scraped. Callers must not write through it.
func (a UpdateActor) StatusLog() *pebble.DB {
	return a.db
}

// Close stops the loop, waits for any in-flight update to reach its
// terminal status, and releases the log. Updates still queued stay
// Enqueued and are finalized as Failed on the next open. Safe to call
// more than once.
func (a UpdateActor) Close() {
	a.once.Do(func() {
		close(a.stop)
		<-a.done
	})
}

func (a UpdateActor) call(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)

	select {
	case a.inbox <- req:
	case <-a.done:
		return response{err: sterrors.Unavailable("update actor")}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-a.done:
		// The loop replies before it can observe a stop, so a
		// buffered reply may still be waiting when done closes.
		select {
		case resp := <-req.reply:
			return resp
		default:
			return response{err: sterrors.Unavailable("update actor")}
		}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// queued is one accepted update waiting its turn.
type queued struct {
	status  Status
	payload <-chan Chunk
}

// outcome is what a worker reports back when an update finishes.
type outcome struct {
	index  uuid.UUID
	status Status
	result engine.UpdateResult
	err    error
	began  time.Time
}

// loop owns the status log, the per-index queues, and the in-flight
// bookkeeping. Only run and the functions it calls touch them; workers
// communicate exclusively through the events channel.
type loop struct {
	store     *store
	apply     Applier
	spoolDir  string
	queues    map[uuid.UUID][]queued
	inflight  map[uuid.UUID]bool
	condemned map[uuid.UUID]bool
	events    chan outcome
	running   int
}

func (l *loop) run(inbox <-chan request, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case req := <-inbox:
			req.reply <- l.handle(req)
		case out := <-l.events:
			l.finish(out, true)
		case <-stop:
			l.drain()
			if err := l.store.close(); err != nil {
				slog.Warn("status log close failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// drain waits out in-flight workers so their terminal statuses reach
// the log before it closes. Nothing new is dispatched.
func (l *loop) drain() {
	for l.running > 0 {
		l.finish(<-l.events, false)
	}
}

func (l *loop) handle(req request) response {
	switch req.op {
	case opRegister:
		return l.register(req.index, req.meta, req.payload)
	case opStatus:
		return l.status(req.index, req.id)
	case opList:
		return l.list(req.index)
	case opDeleteIndex:
		return l.deleteIndex(req.index)
	case opPendingCount:
		return l.pendingCount(req.index)
	default:
		return response{err: sterrors.InternalError("unknown update op", nil)}
	}
}

func (l *loop) register(index uuid.UUID, meta Meta, payload <-chan Chunk) response {
	id, err := l.store.nextID(index)
	if err != nil {
		return response{err: sterrors.New(sterrors.CodeStatusLog, "failed to assign update id", err)}
	}

	st := Enqueue(id, meta)
	if err := l.store.put(index, st); err != nil {
		return response{err: sterrors.New(sterrors.CodeStatusLog, "failed to record update", err)}
	}

	l.queues[index] = append(l.queues[index], queued{status: st, payload: payload})
	metrics.PendingUpdates.Inc()

	slog.Debug("update enqueued",
		slog.String("uuid", index.String()),
		slog.Uint64("updateId", id),
		slog.String("type", string(meta.Type)))

	l.dispatch(index)
	return response{status: st}
}

func (l *loop) status(index uuid.UUID, id uint64) response {
	st, found, err := l.store.get(index, id)
	if err != nil {
		return response{err: sterrors.New(sterrors.CodeStatusLog, "failed to read update status", err)}
	}
	if !found {
		return response{err: sterrors.Newf(sterrors.CodeUpdateNotFound, "update %d not found", id).
			WithDetail("updateId", strconv.FormatUint(id, 10))}
	}
	return response{status: st}
}

func (l *loop) list(index uuid.UUID) response {
	statuses, err := l.store.list(index)
	if err != nil {
		return response{err: sterrors.New(sterrors.CodeStatusLog, "failed to list update statuses", err)}
	}
	return response{statuses: statuses}
}

func (l *loop) deleteIndex(index uuid.UUID) response {
	if dropped := len(l.queues[index]); dropped > 0 {
		metrics.PendingUpdates.Sub(float64(dropped))
	}
	delete(l.queues, index)
	if l.inflight[index] {
		l.condemned[index] = true
	}

	if err := l.store.deleteIndex(index); err != nil {
		return response{err: sterrors.New(sterrors.CodeStatusLog, "failed to drop update history", err)}
	}

	slog.Debug("update history dropped", slog.String("uuid", index.String()))
	return response{}
}

func (l *loop) pendingCount(index uuid.UUID) response {
	pending := len(l.queues[index])
	if l.inflight[index] {
		pending++
	}
	return response{pending: pending}
}

// dispatch starts the next queued update for an index unless one is
// already in flight. A status-log failure at this point fails the
// update rather than running it unrecorded.
func (l *loop) dispatch(index uuid.UUID) {
	for !l.inflight[index] {
		q := l.queues[index]
		if len(q) == 0 {
			return
		}
		item := q[0]
		l.queues[index] = q[1:]

		processing, err := item.status.Process()
		if err != nil {
			slog.Error("update transition rejected", slog.String("error", err.Error()))
			metrics.PendingUpdates.Dec()
			continue
		}
		if err := l.store.put(index, processing); err != nil {
			slog.Error("failed to record processing status",
				slog.String("uuid", index.String()),
				slog.Uint64("updateId", processing.UpdateID),
				slog.String("error", err.Error()))
			l.fail(index, processing, sterrors.New(sterrors.CodeStatusLog, "failed to record processing status", err))
			continue
		}

		l.inflight[index] = true
		l.running++
		go l.work(index, processing, item.payload)
		return
	}
}

// fail finalizes an update without running it.
func (l *loop) fail(index uuid.UUID, st Status, cause error) {
	terminal, err := st.Fail(cause)
	if err != nil {
		slog.Error("update transition rejected", slog.String("error", err.Error()))
		return
	}
	if err := l.store.put(index, terminal); err != nil {
		slog.Error("failed to persist terminal update status", slog.String("error", err.Error()))
	}
	metrics.PendingUpdates.Dec()
	metrics.UpdateResults.WithLabelValues(string(terminal.Type), string(terminal.State)).Inc()
}

// work runs on its own goroutine: it drains the payload, applies the
// update, and reports the outcome back to the loop.
func (l *loop) work(index uuid.UUID, st Status, payload <-chan Chunk) {
	began := time.Now()
	result, err := l.execute(index, st, payload)
	l.events <- outcome{index: index, status: st, result: result, err: err, began: began}
}

func (l *loop) execute(index uuid.UUID, st Status, payload <-chan Chunk) (engine.UpdateResult, error) {
	var reader io.Reader
	if st.Type == MetaDocumentsAddition {
		if payload == nil {
			reader = bytes.NewReader(nil)
		} else {
			spool, err := l.spool(payload)
			if err != nil {
				return engine.UpdateResult{}, err
			}
			defer func() {
				_ = spool.Close()
				_ = os.Remove(spool.Name())
			}()
			reader = spool
		}
	}
	return l.apply(context.Background(), index, st.Meta, reader)
}

// spool drains the payload channel into a temp file so memory stays
// bounded by the channel capacity regardless of upload size. A Chunk
// carrying an error aborts the update with a transport failure.
func (l *loop) spool(payload <-chan Chunk) (*os.File, error) {
	f, err := os.CreateTemp(l.spoolDir, "update-*.payload")
	if err != nil {
		return nil, sterrors.InternalError("failed to create payload spool file", err)
	}
	discard := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	for chunk := range payload {
		if chunk.Err != nil {
			discard()
			return nil, sterrors.TransportError("payload stream failed", chunk.Err)
		}
		if _, err := f.Write(chunk.Data); err != nil {
			discard()
			return nil, sterrors.InternalError("failed to spool payload", err)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, sterrors.InternalError("failed to rewind payload spool file", err)
	}
	return f, nil
}

// finish records a worker's outcome: persists the terminal status,
// updates the metrics, and starts the next update for that index.
func (l *loop) finish(out outcome, dispatchNext bool) {
	l.running--
	delete(l.inflight, out.index)

	var terminal Status
	var trErr error
	if out.err != nil {
		terminal, trErr = out.status.Fail(out.err)
	} else {
		terminal, trErr = out.status.Succeed(out.result)
	}
	if trErr != nil {
		slog.Error("update transition rejected", slog.String("error", trErr.Error()))
		return
	}

	if l.condemned[out.index] {
		// The index was deleted while this update ran; its history
		// is gone, so the terminal status has nowhere to live.
		delete(l.condemned, out.index)
	} else if err := l.store.put(out.index, terminal); err != nil {
		slog.Error("failed to persist terminal update status",
			slog.String("uuid", out.index.String()),
			slog.Uint64("updateId", terminal.UpdateID),
			slog.String("error", err.Error()))
	}

	metrics.PendingUpdates.Dec()
	metrics.UpdateResults.WithLabelValues(string(terminal.Type), string(terminal.State)).Inc()
	metrics.UpdateDuration.WithLabelValues(string(terminal.Type)).Observe(time.Since(out.began).Seconds())

	slog.Debug("update finished",
		slog.String("uuid", out.index.String()),
		slog.Uint64("updateId", terminal.UpdateID),
		slog.String("status", string(terminal.State)))

	if dispatchNext {
		l.dispatch(out.index)
	}
}
