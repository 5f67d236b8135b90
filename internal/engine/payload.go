package engine

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/validation"
)

// ParseDocuments decodes a document payload. A payload with zero bytes
// is rejected outright; a well-formed payload describing zero documents
// (an empty array, a header-only csv) parses to an empty slice.
func ParseDocuments(format PayloadFormat, payload io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(payload)
	if _, err := br.Peek(1); err == io.EOF {
		return nil, sterrors.Newf(sterrors.CodeEmptyPayload, "the payload is empty")
	}

	switch format {
	case FormatJSON:
		return parseJSONArray(br)
	case FormatNDJSON:
		return parseNDJSON(br)
	case FormatCSV:
		return parseCSV(br)
	default:
		return nil, sterrors.Newf(sterrors.CodeBadPayloadFormat, "unsupported payload format %q", string(format))
	}
}

func parseJSONArray(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, badPayload("failed to read payload", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, sterrors.Newf(sterrors.CodeBadPayloadFormat, "expected a JSON array of documents")
	}

	var docs []map[string]any
	for dec.More() {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return nil, badPayload("failed to decode document", err)
		}
		docs = append(docs, doc)
	}

	if _, err := dec.Token(); err != nil {
		return nil, badPayload("failed to read end of payload", err)
	}
	return docs, nil
}

// parseNDJSON decodes a stream of concatenated JSON objects, one per
// line in practice, though any whitespace separation is accepted.
func parseNDJSON(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, badPayload("failed to decode document", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// parseCSV decodes a csv payload. The header row names the fields;
// every cell is kept as a string.
func parseCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, badPayload("failed to read csv header", err)
	}

	var docs []map[string]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, badPayload("failed to read csv record", err)
		}

		doc := make(map[string]any, len(header))
		for i, field := range header {
			doc[field] = record[i]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func badPayload(message string, cause error) *sterrors.Error {
	return sterrors.New(sterrors.CodeBadPayloadFormat, fmt.Sprintf("%s: %v", message, cause), cause)
}

// InferPrimaryKey guesses the primary key from a document: the first
// attribute, in sorted order, whose name contains "id" in any casing.
func InferPrimaryKey(doc map[string]any) (string, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), "id") {
			return k, nil
		}
	}
	return "", sterrors.Newf(sterrors.CodePrimaryKeyInference,
		"could not infer a primary key: no attribute contains \"id\"")
}

// documentID extracts and canonicalizes the id value under the primary
// key. Strings pass through, numbers use their literal form; anything
// else is rejected.
func documentID(doc map[string]any, primaryKey string) (string, error) {
	raw, ok := doc[primaryKey]
	if !ok {
		return "", sterrors.Newf(sterrors.CodeInvalidPrimaryKey,
			"document is missing the primary key attribute %q", primaryKey)
	}

	var id string
	switch v := raw.(type) {
	case string:
		id = v
	case json.Number:
		id = v.String()
	default:
		return "", sterrors.Newf(sterrors.CodeInvalidPrimaryKey,
			"document id under %q must be a string or a number", primaryKey)
	}

	if err := validation.DocumentID(id); err != nil {
		return "", err
	}
	return id, nil
}
