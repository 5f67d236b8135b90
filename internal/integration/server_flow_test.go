// Package integration drives the full server stack end to end: HTTP
// transport, controller actors, update pipeline, and engine against a
// real data directory, with the CLI client on the read side.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steladb/stela/internal/api"
	"github.com/steladb/stela/internal/client"
	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/controller"
	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/updates"
)

// startServer brings up the whole stack on a throwaway data directory.
func startServer(t *testing.T) (*httptest.Server, *client.Client) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	ctrl, err := controller.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	ts := httptest.NewServer(api.NewServer(cfg, ctrl).Handler())
	t.Cleanup(ts.Close)

	return ts, client.New(strings.TrimPrefix(ts.URL, "http://"))
}

func createIndex(t *testing.T, ts *httptest.Server, uid, primaryKey string) {
	t.Helper()

	body, err := json.Marshal(controller.IndexSettings{UID: uid, PrimaryKey: primaryKey})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/indexes", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// submit sends a mutation and returns the accepted update status.
func submit(t *testing.T, method, url, payload string) updates.Status {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var st updates.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

// awaitProcessed polls the task list until the update lands, and fails
// the test if the pipeline rejected it.
func awaitProcessed(t *testing.T, c *client.Client, uid string, updateID uint64) updates.Status {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := c.Tasks(ctx, uid)
		require.NoError(t, err)
		for _, st := range tasks {
			if st.UpdateID != updateID || !st.State.Terminal() {
				continue
			}
			require.Equal(t, updates.StateProcessed, st.State,
				"update %d failed: %s", updateID, st.Error)
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("update %d on %q never reached a terminal state", updateID, uid)
	return updates.Status{}
}

func TestServer_DocumentLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a running server with an explicit index
	ts, c := startServer(t)
	createIndex(t, ts, "movies", "id")
	ctx := context.Background()

	// When: adding documents through the HTTP API
	st := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "title": "Carol", "genre": "drama"},
		  {"id": 2, "title": "Wonder Woman", "genre": "action"},
		  {"id": 3, "title": "Life of Pi", "genre": "drama"}]`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	// Then: stats and search see all three documents
	stats, err := c.GetStats(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NumberOfDocuments)

	result, err := c.Search(ctx, "movies", engine.SearchQuery{Query: "wonder", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.NbHits)
	assert.Equal(t, "Wonder Woman", result.Hits[0]["title"])

	// When: deleting one document by id
	st = submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents/delete-batch", `["2"]`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	// Then: it is gone from stats and search
	stats, err = c.GetStats(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumberOfDocuments)

	result, err = c.Search(ctx, "movies", engine.SearchQuery{Query: "wonder", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, result.NbHits)

	// When: clearing the index
	st = submit(t, http.MethodDelete, ts.URL+"/indexes/movies/documents", "")
	awaitProcessed(t, c, "movies", st.UpdateID)

	// Then: nothing is left but the index itself survives
	stats, err = c.GetStats(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NumberOfDocuments)

	indexes, err := c.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "movies", indexes[0].UID)
}

func TestServer_FacetedSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: documents with a genre attribute, faceting enabled after
	ts, c := startServer(t)
	ctx := context.Background()

	st := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "genre": "drama"}, {"id": 2, "genre": "drama"}, {"id": 3, "genre": "sci-fi"}]`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	st = submit(t, http.MethodPost, ts.URL+"/indexes/movies/facets",
		`{"attributesForFaceting": ["genre"]}`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	// When: a placeholder search requests the distribution
	result, err := c.Search(ctx, "movies", engine.SearchQuery{
		Query:              "",
		Limit:              10,
		FacetsDistribution: []string{"genre"},
	})

	// Then: counts come back per facet value
	require.NoError(t, err)
	assert.Equal(t, 3, result.NbHits)
	require.Contains(t, result.FacetsDistribution, "genre")
	assert.Equal(t, 2, result.FacetsDistribution["genre"]["drama"])
	assert.Equal(t, 1, result.FacetsDistribution["genre"]["sci-fi"])
}

func TestServer_ReplaceKeepsLatestVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: two replacements of the same document enqueued back to back
	ts, c := startServer(t)
	ctx := context.Background()

	first := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "title": "draft"}]`)
	second := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "title": "final"}]`)
	require.Greater(t, second.UpdateID, first.UpdateID)

	// When: the later update finishes
	awaitProcessed(t, c, "movies", second.UpdateID)

	// Then: the earlier one finished before it and only the latest
	// version of the document remains
	tasks, err := c.Tasks(ctx, "movies")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, updates.StateProcessed, tasks[0].State)

	stats, err := c.GetStats(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumberOfDocuments)

	result, err := c.Search(ctx, "movies", engine.SearchQuery{Query: "final", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.NbHits)

	result, err = c.Search(ctx, "movies", engine.SearchQuery{Query: "draft", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, result.NbHits)
}

func TestServer_RestartKeepsData(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a server that indexed documents and then shut down
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	ctx := context.Background()

	ctrl, err := controller.New(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(cfg, ctrl).Handler())
	c := client.New(strings.TrimPrefix(ts.URL, "http://"))

	st := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "title": "Carol"}, {"id": 2, "title": "Arrival"}]`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	ts.Close()
	ctrl.Close()

	// When: a new server opens the same data directory
	ctrl2, err := controller.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(ctrl2.Close)
	ts2 := httptest.NewServer(api.NewServer(cfg, ctrl2).Handler())
	t.Cleanup(ts2.Close)
	c2 := client.New(strings.TrimPrefix(ts2.URL, "http://"))

	// Then: the index, its documents, and its task history survive
	indexes, err := c2.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "movies", indexes[0].UID)

	stats, err := c2.GetStats(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumberOfDocuments)

	result, err := c2.Search(ctx, "movies", engine.SearchQuery{Query: "arrival", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NbHits)

	tasks, err := c2.Tasks(ctx, "movies")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, updates.StateProcessed, tasks[0].State)
}

func TestServer_SettingsRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an index with documents
	ts, c := startServer(t)

	st := submit(t, http.MethodPost, ts.URL+"/indexes/movies/documents",
		`[{"id": 1, "title": "the matrix", "overview": "hacker discovers reality"}]`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	// When: restricting searchable attributes to the title
	st = submit(t, http.MethodPost, ts.URL+"/indexes/movies/settings",
		`{"searchableAttributes": ["title"], "stopWords": ["the"]}`)
	awaitProcessed(t, c, "movies", st.UpdateID)

	// Then: the settings read back as applied
	resp, err := http.Get(ts.URL + "/indexes/movies/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got engine.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"title"}, got.SearchableAttributes)
	assert.Equal(t, []string{"the"}, got.StopWords)
}

func TestServer_SearchUnknownIndexFailsWithCode(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a running server with no indexes
	_, c := startServer(t)

	// When: searching an index that does not exist
	_, err := c.Search(context.Background(), "ghosts", engine.SearchQuery{Query: "x"})

	// Then: the client rebuilds the coded error from the envelope
	require.Error(t, err)
	var se *sterrors.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, sterrors.CodeIndexNotFound, se.Code)
}
