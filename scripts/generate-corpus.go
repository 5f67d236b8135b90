//go:build ignore

// Generates a synthetic document corpus for load testing and benchmarks.
// Usage: go run scripts/generate-corpus.go -docs 50000 -output testdata/corpus
//
// Documents come out in batch files sized for the document addition
// endpoints, so a corpus can be replayed against a running server:
//
//	for f in testdata/corpus/*.ndjson; do
//	  curl -s -XPOST -H 'Content-Type: application/x-ndjson' \
//	    --data-binary @$f http://127.0.0.1:7700/indexes/bench/documents
//	done
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 10000, "Number of documents to generate")
	batchSize = flag.Int("batch", 1000, "Documents per batch file")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	format    = flag.String("format", "ndjson", "Payload format: ndjson, json or csv")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	titleAdjectives = []string{
		"Silent", "Midnight", "Broken", "Hidden", "Golden", "Distant",
		"Burning", "Frozen", "Endless", "Crimson", "Hollow", "Restless",
	}
	titleNouns = []string{
		"Harvest", "River", "Garden", "Signal", "Voyage", "Horizon",
		"Echo", "Orchard", "Atlas", "Ember", "Winter", "Arrival",
	}
	genres = []string{
		"drama", "comedy", "horror", "sci-fi", "noir",
		"documentary", "thriller", "romance",
	}
	overviewWords = []string{
		"a", "story", "about", "family", "lost", "city", "war", "love",
		"journey", "through", "time", "memory", "secret", "return",
		"stranger", "island", "night", "dream", "escape", "home",
	}
)

type document struct {
	ID       int     `json:"id"`
	Title    string  `json:"title"`
	Genre    string  `json:"genre"`
	Year     int     `json:"year"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview"`
}

func main() {
	flag.Parse()

	switch *format {
	case "ndjson", "json", "csv":
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q (want ndjson, json or csv)\n", *format)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	written := 0
	batches := 0
	for written < *numDocs {
		n := *batchSize
		if remaining := *numDocs - written; remaining < n {
			n = remaining
		}

		docs := make([]document, n)
		for i := range docs {
			docs[i] = randomDocument(rng, written+i+1)
		}

		batches++
		name := filepath.Join(*outputDir, fmt.Sprintf("corpus-%05d.%s", batches, *format))
		if err := writeBatch(name, docs); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", name, err)
			os.Exit(1)
		}
		written += n
	}

	fmt.Printf("Generated %d documents across %d files in %s\n", written, batches, *outputDir)
}

func randomDocument(rng *rand.Rand, id int) document {
	title := titleAdjectives[rng.Intn(len(titleAdjectives))] + " " +
		titleNouns[rng.Intn(len(titleNouns))]

	words := make([]string, 6+rng.Intn(10))
	for i := range words {
		words[i] = overviewWords[rng.Intn(len(overviewWords))]
	}

	return document{
		ID:       id,
		Title:    title,
		Genre:    genres[rng.Intn(len(genres))],
		Year:     1950 + rng.Intn(75),
		Rating:   float64(rng.Intn(101)) / 10,
		Overview: strings.Join(words, " "),
	}
}

func writeBatch(path string, docs []document) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch *format {
	case "ndjson":
		enc := json.NewEncoder(f)
		for _, d := range docs {
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
	case "json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(docs); err != nil {
			return err
		}
	case "csv":
		w := csv.NewWriter(f)
		if err := w.Write([]string{"id", "title", "genre", "year", "rating", "overview"}); err != nil {
			return err
		}
		for _, d := range docs {
			row := []string{
				strconv.Itoa(d.ID),
				d.Title,
				d.Genre,
				strconv.Itoa(d.Year),
				strconv.FormatFloat(d.Rating, 'f', 1, 64),
				d.Overview,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}

	return f.Close()
}
