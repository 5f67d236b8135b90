package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/updates"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	c, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// awaitTerminal polls one update until it reaches a terminal state.
func awaitTerminal(t *testing.T, c *Controller, uid string, updateID uint64) updates.Status {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := c.UpdateStatus(context.Background(), uid, updateID)
		require.NoError(t, err)
		if st.State.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("update %d on %q never reached a terminal state", updateID, uid)
	return updates.Status{}
}

func addJSON(t *testing.T, c *Controller, uid, body string) updates.Status {
	t.Helper()

	st, err := c.AddDocuments(context.Background(), uid, engine.MethodReplace, engine.FormatJSON, strings.NewReader(body), "")
	require.NoError(t, err)
	return st
}

// capturePublisher records analytics events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturePublisher) Publish(event string, _ map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// failingReader yields its data once, then fails.
type failingReader struct {
	data []byte
	err  error
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestController_CreateIndexRoundTripsUID(t *testing.T) {
	// Given: a controller
	c := newTestController(t)

	// When: creating an index and reading it back by uid
	created, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies", PrimaryKey: "id"})
	require.NoError(t, err)

	got, err := c.GetIndex(context.Background(), "movies")
	require.NoError(t, err)

	// Then: the same index comes back
	assert.Equal(t, created.UUID, got.UUID)
	assert.Equal(t, "movies", got.UID)
	assert.Equal(t, "id", got.PrimaryKey)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestController_CreateIndexRequiresUID(t *testing.T) {
	// Given: a controller
	c := newTestController(t)

	// When: creating an index without a uid
	_, err := c.CreateIndex(context.Background(), IndexSettings{})

	// Then: the request is rejected as validation failure
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeInvalidIndexUID, sterrors.GetCode(err))
}

func TestController_CreateIndexDuplicateFails(t *testing.T) {
	// Given: an existing index
	c := newTestController(t)
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})
	require.NoError(t, err)

	// When: creating the same uid again
	_, err = c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})

	// Then: the conflict is reported, never treated as idempotent
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeIndexAlreadyExists, sterrors.GetCode(err))
}

func TestController_GetIndexUnknownFails(t *testing.T) {
	// Given: a controller with no indexes
	c := newTestController(t)

	// When: fetching an unknown uid
	_, err := c.GetIndex(context.Background(), "ghost")

	// Then: not found
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeIndexNotFound, sterrors.GetCode(err))
}

func TestController_ListIndexesSortsByUID(t *testing.T) {
	// Given: three indexes created out of order
	c := newTestController(t)
	for _, uid := range []string{"zebra", "apple", "mango"} {
		_, err := c.CreateIndex(context.Background(), IndexSettings{UID: uid})
		require.NoError(t, err)
	}

	// When: listing
	views, err := c.ListIndexes(context.Background())
	require.NoError(t, err)

	// Then: sorted by uid
	require.Len(t, views, 3)
	assert.Equal(t, "apple", views[0].UID)
	assert.Equal(t, "mango", views[1].UID)
	assert.Equal(t, "zebra", views[2].UID)
}

func TestController_AddDocumentsAutoCreatesIndex(t *testing.T) {
	// Given: a controller with no indexes
	c := newTestController(t)

	// When: adding documents to an unknown uid
	st := addJSON(t, c, "movies", `[{"id":1,"title":"Carol"},{"id":2,"title":"Dune"}]`)
	assert.Equal(t, updates.StateEnqueued, st.State)

	final := awaitTerminal(t, c, "movies", st.UpdateID)

	// Then: the update succeeds and the index now exists with the documents
	require.Equal(t, updates.StateProcessed, final.State)
	require.NotNil(t, final.Result)
	assert.Equal(t, 2, final.Result.DocumentsAffected)

	got, err := c.GetIndex(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, "id", got.PrimaryKey)

	result, err := c.Search(context.Background(), "movies", engine.SearchQuery{Query: "dune", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NbHits)
}

func TestController_CreateIndexAfterAddDocumentsFails(t *testing.T) {
	// Given: an index auto-created by a document addition
	c := newTestController(t)
	st := addJSON(t, c, "movies", `[{"id":1}]`)
	awaitTerminal(t, c, "movies", st.UpdateID)

	// When: creating the same uid explicitly
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})

	// Then: the uid is already taken
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeIndexAlreadyExists, sterrors.GetCode(err))
}

func TestController_UpdatesRunInSubmissionOrder(t *testing.T) {
	// Given: a sequence of mutations against one index
	c := newTestController(t)
	first := addJSON(t, c, "movies", `[{"id":1},{"id":2},{"id":3}]`)
	_, err := c.DeleteDocuments(context.Background(), "movies", []string{"2"})
	require.NoError(t, err)
	last, err := c.ClearDocuments(context.Background(), "movies")
	require.NoError(t, err)

	// When: the last update finishes
	require.Equal(t, uint64(0), first.UpdateID)
	require.Equal(t, uint64(2), last.UpdateID)
	awaitTerminal(t, c, "movies", last.UpdateID)

	// Then: the history shows every update terminal, in submission order
	history, err := c.AllUpdateStatuses(context.Background(), "movies")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, st := range history {
		assert.Equal(t, uint64(i), st.UpdateID)
		assert.Equal(t, updates.StateProcessed, st.State)
	}

	// And: the clear won, so no documents remain
	stats, err := c.GetStats(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NumberOfDocuments)
	assert.False(t, stats.IsIndexing)
}

func TestController_EmptyPayloadFailsTheUpdate(t *testing.T) {
	// Given: a controller
	c := newTestController(t)

	// When: streaming an empty payload
	st := addJSON(t, c, "movies", "")
	final := awaitTerminal(t, c, "movies", st.UpdateID)

	// Then: that update fails validation without poisoning the index
	require.Equal(t, updates.StateFailed, final.State)
	assert.Equal(t, sterrors.CodeEmptyPayload, final.ErrorCode)
	assert.Equal(t, string(sterrors.KindValidation), final.ErrorKind)

	next := addJSON(t, c, "movies", `[{"id":1}]`)
	assert.Equal(t, updates.StateProcessed, awaitTerminal(t, c, "movies", next.UpdateID).State)
}

func TestController_EmptyArrayProcessesZeroDocuments(t *testing.T) {
	// Given: a controller
	c := newTestController(t)

	// When: streaming a well-formed empty batch
	st := addJSON(t, c, "movies", `[]`)
	final := awaitTerminal(t, c, "movies", st.UpdateID)

	// Then: the update succeeds and affects nothing
	require.Equal(t, updates.StateProcessed, final.State)
	require.NotNil(t, final.Result)
	assert.Equal(t, 0, final.Result.DocumentsAffected)
}

func TestController_PayloadReadErrorFailsAsTransport(t *testing.T) {
	// Given: a payload stream that breaks mid-upload
	c := newTestController(t)
	r := &failingReader{data: []byte(`[{"id":1},`), err: errors.New("connection reset")}

	// When: the update runs
	st, err := c.AddDocuments(context.Background(), "movies", engine.MethodReplace, engine.FormatJSON, r, "")
	require.NoError(t, err)
	final := awaitTerminal(t, c, "movies", st.UpdateID)

	// Then: it fails as a transport error, and later updates still run
	require.Equal(t, updates.StateFailed, final.State)
	assert.Equal(t, sterrors.CodePayloadAborted, final.ErrorCode)
	assert.Equal(t, string(sterrors.KindTransport), final.ErrorKind)

	next := addJSON(t, c, "movies", `[{"id":1}]`)
	assert.Equal(t, updates.StateProcessed, awaitTerminal(t, c, "movies", next.UpdateID).State)
}

func TestController_ConcurrentAddDocumentsAllComplete(t *testing.T) {
	// Given: many concurrent document additions to one index
	c := newTestController(t)
	const n = 8

	var g errgroup.Group
	statuses := make([]updates.Status, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			body := fmt.Sprintf(`[{"id":%d,"title":"doc %d"}]`, i, i)
			st, err := c.AddDocuments(context.Background(), "movies", engine.MethodReplace, engine.FormatJSON, strings.NewReader(body), "")
			if err != nil {
				return err
			}
			statuses[i] = st
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// When: waiting for every update
	seen := make(map[uint64]bool, n)
	for _, st := range statuses {
		final := awaitTerminal(t, c, "movies", st.UpdateID)
		assert.Equal(t, updates.StateProcessed, final.State)
		seen[st.UpdateID] = true
	}

	// Then: ids are unique and every document landed
	assert.Len(t, seen, n)
	stats, err := c.GetStats(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, n, stats.NumberOfDocuments)
}

func TestController_MutationsNeverAutoCreate(t *testing.T) {
	// Given: a controller with no indexes
	c := newTestController(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"clear documents", func() error {
			_, err := c.ClearDocuments(context.Background(), "ghost")
			return err
		}},
		{"delete documents", func() error {
			_, err := c.DeleteDocuments(context.Background(), "ghost", []string{"1"})
			return err
		}},
		{"update settings", func() error {
			_, err := c.UpdateSettings(context.Background(), "ghost", engine.Settings{})
			return err
		}},
		{"update facets", func() error {
			_, err := c.UpdateFacets(context.Background(), "ghost", engine.Facets{})
			return err
		}},
		{"search", func() error {
			_, err := c.Search(context.Background(), "ghost", engine.SearchQuery{Query: "x"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: targeting an unknown uid
			err := tt.call()

			// Then: not found, and still no index
			require.Error(t, err)
			assert.Equal(t, sterrors.CodeIndexNotFound, sterrors.GetCode(err))
		})
	}

	views, err := c.ListIndexes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestController_SettingsFlowThroughThePipeline(t *testing.T) {
	// Given: an index with documents
	c := newTestController(t)
	st := addJSON(t, c, "movies", `[{"id":1,"title":"Carol"}]`)
	awaitTerminal(t, c, "movies", st.UpdateID)

	// When: enqueueing a settings change
	sent := engine.Settings{SearchableAttributes: []string{"title"}}
	upd, err := c.UpdateSettings(context.Background(), "movies", sent)
	require.NoError(t, err)
	final := awaitTerminal(t, c, "movies", upd.UpdateID)

	// Then: the change is applied and readable
	require.Equal(t, updates.StateProcessed, final.State)
	got, err := c.GetSettings(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, got.SearchableAttributes)
}

func TestController_DeleteIndexDropsEverything(t *testing.T) {
	// Given: an index with documents and history
	c := newTestController(t)
	st := addJSON(t, c, "movies", `[{"id":1}]`)
	awaitTerminal(t, c, "movies", st.UpdateID)

	// When: deleting it
	require.NoError(t, c.DeleteIndex(context.Background(), "movies"))

	// Then: the uid, the history, and the data are gone
	_, err := c.GetIndex(context.Background(), "movies")
	assert.Equal(t, sterrors.CodeIndexNotFound, sterrors.GetCode(err))
	_, err = c.AllUpdateStatuses(context.Background(), "movies")
	assert.Equal(t, sterrors.CodeIndexNotFound, sterrors.GetCode(err))

	// And: the uid is free again, starting from a clean slate
	fresh := addJSON(t, c, "movies", `[{"id":9}]`)
	assert.Equal(t, uint64(0), fresh.UpdateID)
	final := awaitTerminal(t, c, "movies", fresh.UpdateID)
	assert.Equal(t, updates.StateProcessed, final.State)
}

func TestController_SwapIndexesExchangesBindings(t *testing.T) {
	// Given: two indexes with distinct content
	c := newTestController(t)
	stA := addJSON(t, c, "staging", `[{"id":1,"title":"draft release"}]`)
	stB := addJSON(t, c, "production", `[{"id":1,"title":"live release"}]`)
	awaitTerminal(t, c, "staging", stA.UpdateID)
	awaitTerminal(t, c, "production", stB.UpdateID)

	before, err := c.GetIndex(context.Background(), "staging")
	require.NoError(t, err)

	// When: swapping the two uids
	require.NoError(t, c.SwapIndexes(context.Background(), "staging", "production"))

	// Then: documents travel with their uuid to the other name
	after, err := c.GetIndex(context.Background(), "production")
	require.NoError(t, err)
	assert.Equal(t, before.UUID, after.UUID)

	result, err := c.Search(context.Background(), "production", engine.SearchQuery{Query: "draft", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NbHits)
}

func TestController_SwapUnknownIndexFails(t *testing.T) {
	// Given: only one of the two uids exists
	c := newTestController(t)
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "staging"})
	require.NoError(t, err)

	// When: swapping with a missing uid
	err = c.SwapIndexes(context.Background(), "staging", "ghost")

	// Then: the swap fails and the existing binding is untouched
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeIndexNotFound, sterrors.GetCode(err))
	_, err = c.GetIndex(context.Background(), "staging")
	assert.NoError(t, err)
}

func TestController_UpdateIndexRejectsRename(t *testing.T) {
	// Given: an existing index
	c := newTestController(t)
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})
	require.NoError(t, err)

	// When: attempting to change the uid
	_, err = c.UpdateIndex(context.Background(), "movies", IndexSettings{UID: "films"})

	// Then: the uid is immutable
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeImmutableIndexUID, sterrors.GetCode(err))
}

func TestController_UpdateIndexSetsPrimaryKeyOnce(t *testing.T) {
	// Given: an index without a primary key
	c := newTestController(t)
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})
	require.NoError(t, err)

	// When: setting the primary key
	got, err := c.UpdateIndex(context.Background(), "movies", IndexSettings{PrimaryKey: "sku"})
	require.NoError(t, err)
	assert.Equal(t, "sku", got.PrimaryKey)

	// Then: a second change is rejected
	_, err = c.UpdateIndex(context.Background(), "movies", IndexSettings{PrimaryKey: "ref"})
	require.Error(t, err)
	assert.Equal(t, sterrors.CodePrimaryKeyPresent, sterrors.GetCode(err))

	// And: an update with no changes just returns the index
	same, err := c.UpdateIndex(context.Background(), "movies", IndexSettings{})
	require.NoError(t, err)
	assert.Equal(t, "sku", same.PrimaryKey)
}

func TestController_UpdateStatusUnknownUpdateFails(t *testing.T) {
	// Given: an index with no updates
	c := newTestController(t)
	_, err := c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})
	require.NoError(t, err)

	// When: asking for an update id that was never issued
	_, err = c.UpdateStatus(context.Background(), "movies", 42)

	// Then: not found
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeUpdateNotFound, sterrors.GetCode(err))
}

func TestController_DocumentWindowAndLookup(t *testing.T) {
	// Given: an index with three documents
	c := newTestController(t)
	st := addJSON(t, c, "movies", `[{"id":1,"title":"Carol"},{"id":2,"title":"Dune"},{"id":3,"title":"Heat"}]`)
	awaitTerminal(t, c, "movies", st.UpdateID)

	// When: paging through them
	docs, err := c.Documents(context.Background(), "movies", 1, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// Then: a single lookup works too
	doc, err := c.Document(context.Background(), "movies", "2")
	require.NoError(t, err)
	assert.Equal(t, "Dune", doc["title"])

	_, err = c.Document(context.Background(), "movies", "99")
	assert.Equal(t, sterrors.CodeDocumentNotFound, sterrors.GetCode(err))
}

func TestController_PublishesAnalyticsEvents(t *testing.T) {
	// Given: a controller with a capturing publisher
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	pub := &capturePublisher{}
	c, err := New(cfg, pub)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// When: creating an index and adding documents
	_, err = c.CreateIndex(context.Background(), IndexSettings{UID: "movies", PrimaryKey: "id"})
	require.NoError(t, err)
	st, err := c.AddDocuments(context.Background(), "movies", engine.MethodReplace, engine.FormatJSON, strings.NewReader(`[{"id":1}]`), "")
	require.NoError(t, err)
	awaitTerminal(t, c, "movies", st.UpdateID)

	// Then: both events were published
	events := pub.seen()
	assert.Contains(t, events, "Index Created")
	assert.Contains(t, events, "Documents Added")
}

func TestController_SurvivesRestart(t *testing.T) {
	// Given: a controller with an index and finished updates
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	c, err := New(cfg, nil)
	require.NoError(t, err)

	st, err := c.AddDocuments(context.Background(), "movies", engine.MethodReplace, engine.FormatJSON, strings.NewReader(`[{"id":1,"title":"Carol"}]`), "")
	require.NoError(t, err)
	awaitTerminal(t, c, "movies", st.UpdateID)
	before, err := c.GetIndex(context.Background(), "movies")
	require.NoError(t, err)
	c.Close()

	// When: opening a new controller on the same data dir
	c2, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c2.Close)

	// Then: the binding, the documents, and the history are all back
	after, err := c2.GetIndex(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, before.UUID, after.UUID)

	result, err := c2.Search(context.Background(), "movies", engine.SearchQuery{Query: "carol", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NbHits)

	history, err := c2.AllUpdateStatuses(context.Background(), "movies")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, updates.StateProcessed, history[0].State)
}

func TestController_ClosedControllerReturnsUnavailable(t *testing.T) {
	// Given: a closed controller
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = c.CreateIndex(context.Background(), IndexSettings{UID: "movies"})
	require.NoError(t, err)
	c.Close()

	// When: using it afterwards
	_, err = c.GetIndex(context.Background(), "movies")

	// Then: callers get a clean unavailable error, not a hang
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeActorUnavailable, sterrors.GetCode(err))

	_, err = c.AddDocuments(context.Background(), "movies", engine.MethodReplace, engine.FormatJSON, strings.NewReader(`[]`), "")
	require.Error(t, err)
	assert.Equal(t, sterrors.CodeActorUnavailable, sterrors.GetCode(err))
}
