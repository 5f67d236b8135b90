package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	sterrors "github.com/steladb/stela/internal/errors"
)

const (
	docStoreFile  = "documents.db"
	bleveDir      = "index.bleve"
	defaultLimit  = 20
	reindexBatch  = 500
	maxFacetTerms = 100
)

// LocalEngine is the default Engine: a bleve full-text index derived
// from a sqlite document store, both under one index directory. The
// document store is authoritative; the bleve half is rebuilt from it
// whenever the mapping changes or corruption is detected.
type LocalEngine struct {
	mu       sync.RWMutex
	path     string // index root directory; empty means in-memory
	index    bleve.Index
	docs     *docStore
	settings Settings
	closed   bool
}

var _ Engine = (*LocalEngine)(nil)

// LocalOpener opens LocalEngine instances for the index actor.
type LocalOpener struct{}

var _ Opener = LocalOpener{}

func (LocalOpener) Open(path string) (Engine, error) {
	return OpenLocal(path)
}

// OpenLocal opens (or creates) the engine rooted at path. An empty
// path keeps everything in memory for testing.
func OpenLocal(path string) (*LocalEngine, error) {
	var docPath string
	if path != "" {
		docPath = filepath.Join(path, docStoreFile)
	}

	docs, err := openDocStore(docPath)
	if err != nil {
		return nil, sterrors.EngineError("failed to open document store", err)
	}

	settings, err := docs.loadSettings(context.Background())
	if err != nil {
		_ = docs.close()
		return nil, sterrors.EngineError("failed to load settings", err)
	}

	e := &LocalEngine{path: path, docs: docs, settings: settings}
	fresh, err := e.openIndex()
	if err != nil {
		_ = docs.close()
		return nil, err
	}

	// A freshly created index under a non-empty document store means
	// the previous one was cleared as corrupted; replay everything.
	if fresh {
		if n, err := docs.count(context.Background()); err == nil && n > 0 {
			slog.Info("rebuilding full-text index from document store",
				slog.String("path", path),
				slog.Int("documents", n))
			if err := e.reindexAll(context.Background()); err != nil {
				_ = e.Close()
				return nil, err
			}
		}
	}

	return e, nil
}

// openIndex opens or creates the bleve index, reporting whether it was
// created fresh. Corrupted indexes are cleared; they are derived data.
func (e *LocalEngine) openIndex() (bool, error) {
	indexMapping := buildMapping(e.settings.AttributesForFaceting)

	if e.path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return false, sterrors.EngineError("failed to create in-memory index", err)
		}
		e.index = idx
		return false, nil
	}

	path := filepath.Join(e.path, bleveDir)

	idx, err := bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return false, sterrors.EngineError("failed to create index", err)
		}
		e.index = idx
		return true, nil

	case err != nil && isCorruptionError(err):
		slog.Warn("full-text index corrupted, clearing",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return false, sterrors.EngineError("failed to clear corrupted index", removeErr)
		}
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return false, sterrors.EngineError("failed to recreate index", err)
		}
		e.index = idx
		return true, nil

	case err != nil:
		return false, sterrors.EngineError("failed to open index", err)
	}

	e.index = idx
	return false, nil
}

// isCorruptionError checks if an error indicates bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// buildMapping creates the bleve mapping. Facet attributes are indexed
// verbatim (keyword analyzer) so their counts group whole values;
// everything else goes through the default dynamic mapping.
func buildMapping(facetAttrs []string) *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	for _, attr := range facetAttrs {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		docMapping.AddFieldMappingsAt(attr, fm)
	}
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// AddDocuments parses the payload and writes the documents to both
// stores. primaryKey is the key to extract ids with; when empty it is
// inferred from the first document and reported in the result.
func (e *LocalEngine) AddDocuments(ctx context.Context, method AddMethod, format PayloadFormat, payload io.Reader, primaryKey string) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return UpdateResult{}, sterrors.EngineError("index is closed", nil)
	}

	docs, err := ParseDocuments(format, payload)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(docs) == 0 {
		return UpdateResult{PrimaryKey: primaryKey}, nil
	}

	pk := primaryKey
	if pk == "" {
		pk, err = InferPrimaryKey(docs[0])
		if err != nil {
			return UpdateResult{}, err
		}
	}

	byID := make(map[string]map[string]any, len(docs))
	for _, doc := range docs {
		id, err := documentID(doc, pk)
		if err != nil {
			return UpdateResult{}, err
		}

		if method == MethodUpdate {
			existing, found, err := e.docs.get(ctx, id)
			if err != nil {
				return UpdateResult{}, sterrors.EngineError("failed to read existing document", err)
			}
			if prev, ok := byID[id]; ok {
				existing, found = prev, true
			}
			if found {
				for k, v := range doc {
					existing[k] = v
				}
				doc = existing
			}
		}

		byID[id] = doc
	}

	if err := e.docs.upsert(ctx, byID); err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to store documents", err)
	}

	batch := e.index.NewBatch()
	for id, doc := range byID {
		if err := batch.Index(id, e.indexedView(doc)); err != nil {
			return UpdateResult{}, sterrors.EngineError("failed to index document", err)
		}
	}
	if err := e.index.Batch(batch); err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to execute index batch", err)
	}

	return UpdateResult{DocumentsAffected: len(byID), PrimaryKey: pk}, nil
}

// indexedView restricts a document to the searchable attributes, when
// any are configured. Facet attributes are always kept so their counts
// stay complete.
func (e *LocalEngine) indexedView(doc map[string]any) map[string]any {
	searchable := e.settings.SearchableAttributes
	if len(searchable) == 0 {
		return doc
	}

	view := make(map[string]any, len(searchable))
	for _, attr := range searchable {
		if v, ok := doc[attr]; ok {
			view[attr] = v
		}
	}
	for _, attr := range e.settings.AttributesForFaceting {
		if v, ok := doc[attr]; ok {
			view[attr] = v
		}
	}
	return view
}

// ClearDocuments removes every document from both stores.
func (e *LocalEngine) ClearDocuments(ctx context.Context) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return UpdateResult{}, sterrors.EngineError("index is closed", nil)
	}

	batch := e.index.NewBatch()
	err := e.docs.each(ctx, func(id string, _ map[string]any) error {
		batch.Delete(id)
		return nil
	})
	if err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to scan documents", err)
	}
	if err := e.index.Batch(batch); err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to execute delete batch", err)
	}

	n, err := e.docs.clear(ctx)
	if err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to clear documents", err)
	}

	return UpdateResult{DocumentsAffected: n}, nil
}

// DeleteDocuments removes the given ids. Unknown ids are ignored; the
// result counts documents that actually existed.
func (e *LocalEngine) DeleteDocuments(ctx context.Context, ids []string) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return UpdateResult{}, sterrors.EngineError("index is closed", nil)
	}
	if len(ids) == 0 {
		return UpdateResult{}, nil
	}

	batch := e.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := e.index.Batch(batch); err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to execute delete batch", err)
	}

	n, err := e.docs.remove(ctx, ids)
	if err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to delete documents", err)
	}

	return UpdateResult{DocumentsAffected: n}, nil
}

// ApplySettings overlays the provided settings onto the stored ones.
// Nil fields keep their current value. Changing the searchable or
// facet attributes reindexes from the document store.
func (e *LocalEngine) ApplySettings(ctx context.Context, settings Settings) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return UpdateResult{}, sterrors.EngineError("index is closed", nil)
	}

	merged := e.settings
	if settings.RankingRules != nil {
		merged.RankingRules = settings.RankingRules
	}
	if settings.DistinctAttribute != nil {
		merged.DistinctAttribute = settings.DistinctAttribute
	}
	if settings.SearchableAttributes != nil {
		merged.SearchableAttributes = settings.SearchableAttributes
	}
	if settings.DisplayedAttributes != nil {
		merged.DisplayedAttributes = settings.DisplayedAttributes
	}
	if settings.StopWords != nil {
		merged.StopWords = settings.StopWords
	}
	if settings.Synonyms != nil {
		merged.Synonyms = settings.Synonyms
	}
	if settings.AttributesForFaceting != nil {
		merged.AttributesForFaceting = settings.AttributesForFaceting
	}

	return e.commitSettings(ctx, merged)
}

// ApplyFacets sets the facet attribute list verbatim.
func (e *LocalEngine) ApplyFacets(ctx context.Context, facets Facets) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return UpdateResult{}, sterrors.EngineError("index is closed", nil)
	}

	merged := e.settings
	merged.AttributesForFaceting = facets.AttributesForFaceting

	return e.commitSettings(ctx, merged)
}

// commitSettings persists merged and rebuilds or reindexes as needed.
// Caller holds the write lock.
func (e *LocalEngine) commitSettings(ctx context.Context, merged Settings) (UpdateResult, error) {
	rebuild := !slices.Equal(merged.AttributesForFaceting, e.settings.AttributesForFaceting)
	reindex := rebuild || !slices.Equal(merged.SearchableAttributes, e.settings.SearchableAttributes)

	if err := e.docs.saveSettings(ctx, merged); err != nil {
		return UpdateResult{}, sterrors.EngineError("failed to store settings", err)
	}
	e.settings = merged

	if rebuild {
		// The facet mapping is baked into the index at creation, so
		// a facet change needs a fresh index.
		if err := e.recreateIndex(); err != nil {
			return UpdateResult{}, err
		}
	}
	if reindex {
		if err := e.reindexAll(ctx); err != nil {
			return UpdateResult{}, err
		}
	}

	return UpdateResult{}, nil
}

// recreateIndex replaces the bleve index with an empty one built from
// the current settings. Caller holds the write lock.
func (e *LocalEngine) recreateIndex() error {
	if err := e.index.Close(); err != nil {
		return sterrors.EngineError("failed to close index", err)
	}

	indexMapping := buildMapping(e.settings.AttributesForFaceting)

	if e.path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return sterrors.EngineError("failed to recreate in-memory index", err)
		}
		e.index = idx
		return nil
	}

	path := filepath.Join(e.path, bleveDir)
	if err := os.RemoveAll(path); err != nil {
		return sterrors.EngineError("failed to remove index", err)
	}
	idx, err := bleve.New(path, indexMapping)
	if err != nil {
		return sterrors.EngineError("failed to recreate index", err)
	}
	e.index = idx
	return nil
}

// reindexAll replays every stored document into the bleve index in
// bounded batches. Caller holds the write lock.
func (e *LocalEngine) reindexAll(ctx context.Context) error {
	batch := e.index.NewBatch()
	size := 0

	flush := func() error {
		if size == 0 {
			return nil
		}
		if err := e.index.Batch(batch); err != nil {
			return sterrors.EngineError("failed to execute reindex batch", err)
		}
		batch = e.index.NewBatch()
		size = 0
		return nil
	}

	err := e.docs.each(ctx, func(id string, doc map[string]any) error {
		if err := batch.Index(id, e.indexedView(doc)); err != nil {
			return sterrors.EngineError("failed to index document", err)
		}
		size++
		if size >= reindexBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// Search runs a query. An empty query matches every document.
func (e *LocalEngine) Search(ctx context.Context, sq SearchQuery) (SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return SearchResult{}, sterrors.EngineError("index is closed", nil)
	}

	start := time.Now()

	limit := sq.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := sq.Offset
	if offset < 0 {
		offset = 0
	}

	var q query.Query
	if strings.TrimSpace(sq.Query) == "" {
		q = bleve.NewMatchAllQuery()
	} else {
		q = bleve.NewMatchQuery(sq.Query)
	}

	req := bleve.NewSearchRequest(q)
	req.From = offset
	req.Size = limit

	for _, attr := range sq.FacetsDistribution {
		if !slices.Contains(e.settings.AttributesForFaceting, attr) {
			return SearchResult{}, sterrors.Newf(sterrors.CodeInvalidQuery,
				"attribute %q is not configured for faceting", attr)
		}
		req.AddFacet(attr, bleve.NewFacetRequest(attr, maxFacetTerms))
	}

	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return SearchResult{}, sterrors.EngineError("search failed", err)
	}

	hits := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, found, err := e.docs.get(ctx, hit.ID)
		if err != nil {
			return SearchResult{}, sterrors.EngineError("failed to load hit", err)
		}
		if !found {
			continue
		}
		hits = append(hits, e.displayedView(doc))
	}

	result := SearchResult{
		Hits:             hits,
		NbHits:           int(res.Total),
		Offset:           offset,
		Limit:            limit,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Query:            sq.Query,
	}

	if len(res.Facets) > 0 {
		result.FacetsDistribution = make(map[string]map[string]int, len(res.Facets))
		for attr, fr := range res.Facets {
			counts := make(map[string]int)
			if fr.Terms != nil {
				for _, term := range fr.Terms.Terms() {
					counts[term.Term] = term.Count
				}
			}
			result.FacetsDistribution[attr] = counts
		}
	}

	return result, nil
}

// displayedView restricts a document to the displayed attributes, when
// any are configured.
func (e *LocalEngine) displayedView(doc map[string]any) map[string]any {
	displayed := e.settings.DisplayedAttributes
	if len(displayed) == 0 {
		return doc
	}

	view := make(map[string]any, len(displayed))
	for _, attr := range displayed {
		if v, ok := doc[attr]; ok {
			view[attr] = v
		}
	}
	return view
}

// Settings returns the stored settings.
func (e *LocalEngine) Settings(ctx context.Context) (Settings, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return Settings{}, sterrors.EngineError("index is closed", nil)
	}
	return e.settings, nil
}

// Documents returns stored bodies ordered by document id.
func (e *LocalEngine) Documents(ctx context.Context, offset, limit int) ([]map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, sterrors.EngineError("index is closed", nil)
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := e.docs.list(ctx, offset, limit)
	if err != nil {
		return nil, sterrors.EngineError("failed to list documents", err)
	}
	return docs, nil
}

// Document returns one stored body.
func (e *LocalEngine) Document(ctx context.Context, id string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, sterrors.EngineError("index is closed", nil)
	}

	doc, found, err := e.docs.get(ctx, id)
	if err != nil {
		return nil, sterrors.EngineError("failed to read document", err)
	}
	if !found {
		return nil, sterrors.Newf(sterrors.CodeDocumentNotFound, "document %q not found", id).
			WithDetail("documentId", id)
	}
	return doc, nil
}

// Stats reports document and field counts. IsIndexing is left for the
// caller.
func (e *LocalEngine) Stats(ctx context.Context) (IndexStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return IndexStats{}, sterrors.EngineError("index is closed", nil)
	}

	n, err := e.docs.count(ctx)
	if err != nil {
		return IndexStats{}, sterrors.EngineError("failed to count documents", err)
	}
	fields, err := e.docs.fieldsCount(ctx)
	if err != nil {
		return IndexStats{}, sterrors.EngineError("failed to count fields", err)
	}

	return IndexStats{NumberOfDocuments: n, FieldsCount: fields}, nil
}

// Close closes both stores. Further calls fail; Close is idempotent.
func (e *LocalEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close index: %w", err)
		}
	}
	if e.docs != nil {
		if err := e.docs.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close document store: %w", err)
		}
	}
	return firstErr
}
