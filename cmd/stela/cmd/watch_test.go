package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steladb/stela/internal/client"
	"github.com/steladb/stela/internal/controller"
	"github.com/steladb/stela/internal/engine"
	"github.com/steladb/stela/internal/updates"
	"github.com/steladb/stela/pkg/version"
)

// stubServer fakes the read-only slice of the HTTP API the CLI uses.
type stubServer struct {
	indexes []controller.Index
	stats   map[string]engine.IndexStats
	tasks   map[string][]updates.Status
}

// start serves the stub and returns its host:port.
func (s stubServer) start(t *testing.T) string {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "available"})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, version.BuildInfo{Version: "0.3.1", Commit: "4f2c9aa"})
	})
	mux.HandleFunc("GET /indexes", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.indexes)
	})
	mux.HandleFunc("GET /indexes/{uid}/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.stats[r.PathValue("uid")])
	})
	mux.HandleFunc("GET /indexes/{uid}/tasks", func(w http.ResponseWriter, r *http.Request) {
		statuses := s.tasks[r.PathValue("uid")]
		if statuses == nil {
			statuses = []updates.Status{}
		}
		writeJSON(w, statuses)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestWatchCmd_Flags(t *testing.T) {
	// Given: the watch command
	cmd := newWatchCmd()

	// Then: flags exist with their documented defaults
	addr := cmd.Flags().Lookup("addr")
	require.NotNil(t, addr)
	assert.Equal(t, "127.0.0.1:7700", addr.DefValue)

	interval := cmd.Flags().Lookup("interval")
	require.NotNil(t, interval)
	assert.Equal(t, "1s", interval.DefValue)

	assert.NotNil(t, cmd.Flags().Lookup("plain"))
	assert.NotNil(t, cmd.Flags().Lookup("no-color"))
}

func TestFetchSnapshot_CollectsRows(t *testing.T) {
	// Given: a server with one busy index and one idle index
	now := time.Now().UTC()
	processedAt := now.Add(-2 * time.Minute)
	stub := stubServer{
		indexes: []controller.Index{{UID: "movies"}, {UID: "albums"}},
		stats: map[string]engine.IndexStats{
			"movies": {NumberOfDocuments: 1500, IsIndexing: true},
			"albums": {NumberOfDocuments: 12},
		},
		tasks: map[string][]updates.Status{
			"movies": {
				{UpdateID: 1, State: updates.StateProcessed, Meta: updates.ClearDocuments(), EnqueuedAt: now.Add(-3 * time.Minute), ProcessedAt: &processedAt},
				{UpdateID: 2, State: updates.StateEnqueued, Meta: updates.ClearDocuments(), EnqueuedAt: now},
			},
		},
	}
	addr := stub.start(t)

	// When: taking one snapshot
	snap := fetchSnapshot(client.New(addr))(context.Background())

	// Then: rows carry stats, queue depth, and the newest task's state
	require.NoError(t, snap.Err)
	require.Len(t, snap.Indexes, 2)

	movies := snap.Indexes[0]
	assert.Equal(t, "movies", movies.UID)
	assert.Equal(t, 1500, movies.Documents)
	assert.True(t, movies.Indexing)
	assert.Equal(t, 1, movies.Pending)
	assert.Equal(t, "enqueued", movies.LastState)

	albums := snap.Indexes[1]
	assert.Equal(t, "albums", albums.UID)
	assert.Equal(t, 12, albums.Documents)
	assert.False(t, albums.Indexing)
	assert.Equal(t, 0, albums.Pending)
	assert.Equal(t, "", albums.LastState)

	assert.False(t, snap.At.IsZero())
}

func TestFetchSnapshot_UnreachableServer(t *testing.T) {
	// Given: nothing listening on the address
	snap := fetchSnapshot(client.New("127.0.0.1:1"))(context.Background())

	// Then: the failure rides in the snapshot instead of aborting
	require.Error(t, snap.Err)
	assert.Empty(t, snap.Indexes)
}

func TestFetchSnapshot_EmptyServer(t *testing.T) {
	// Given: a server with no indexes
	addr := stubServer{}.start(t)

	// When: taking one snapshot
	snap := fetchSnapshot(client.New(addr))(context.Background())

	// Then: the snapshot is clean and empty
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Indexes)
}
