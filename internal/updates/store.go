package updates

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	sterrors "github.com/steladb/stela/internal/errors"
)

// Key layout. Status keys sort by index uuid then update id, so a
// prefix scan yields one index's updates in submission order.
//
//	'v'                      schema version
//	'c' | uuid[16]           next update id, uint64 big-endian
//	'u' | uuid[16] | id[8]   JSON-encoded Status, id big-endian
const (
	schemaKey     = 'v'
	counterPrefix = 'c'
	statusPrefix  = 'u'

	schemaVersion = "1"
)

// store is the durable status log. It is owned by the actor loop; all
// writes go through the loop so transitions are never interleaved.
type store struct {
	db *pebble.DB
}

func openStore(path string) (*store, error) {
	db, err := pebble.Open(path, &pebble.Options{Logger: pebbleLogger{}})
	if err != nil {
		return nil, sterrors.New(sterrors.CodeStatusLog, fmt.Sprintf("failed to open status log at %s", path), err)
	}
	s := &store{db: db}
	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) checkSchema() error {
	val, closer, err := s.db.Get([]byte{schemaKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return s.db.Set([]byte{schemaKey}, []byte(schemaVersion), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("failed to read status log schema version: %w", err)
	}
	version := string(val)
	_ = closer.Close()
	if version != schemaVersion {
		return sterrors.Newf(sterrors.CodeStatusLog, "unsupported status log schema version %q", version)
	}
	return nil
}

func statusKey(index uuid.UUID, id uint64) []byte {
	key := make([]byte, 1+16+8)
	key[0] = statusPrefix
	copy(key[1:], index[:])
	binary.BigEndian.PutUint64(key[17:], id)
	return key
}

func counterKey(index uuid.UUID) []byte {
	key := make([]byte, 1+16)
	key[0] = counterPrefix
	copy(key[1:], index[:])
	return key
}

// prefixSuccessor returns the smallest key ordered after every key that
// starts with prefix, for use as an exclusive iteration upper bound.
func prefixSuccessor(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// nextID hands out the next update id for an index, starting at 0.
// Single writer, so read-increment-write needs no coordination.
func (s *store) nextID(index uuid.UUID) (uint64, error) {
	var next uint64
	val, closer, err := s.db.Get(counterKey(index))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		next = 0
	case err != nil:
		return 0, fmt.Errorf("failed to read update counter: %w", err)
	default:
		next = binary.BigEndian.Uint64(val)
		_ = closer.Close()
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	if err := s.db.Set(counterKey(index), buf[:], pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to advance update counter: %w", err)
	}
	return next, nil
}

func (s *store) put(index uuid.UUID, st Status) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode update status: %w", err)
	}
	if err := s.db.Set(statusKey(index, st.UpdateID), body, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist update status: %w", err)
	}
	return nil
}

func (s *store) get(index uuid.UUID, id uint64) (Status, bool, error) {
	val, closer, err := s.db.Get(statusKey(index, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("failed to read update status: %w", err)
	}
	defer closer.Close()
	var st Status
	if err := json.Unmarshal(val, &st); err != nil {
		return Status{}, false, fmt.Errorf("failed to decode update status: %w", err)
	}
	return st, true, nil
}

// list returns every status for one index in update id order.
func (s *store) list(index uuid.UUID) ([]Status, error) {
	lower := statusKey(index, 0)
	upper := prefixSuccessor(lower[:17])
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to scan update statuses: %w", err)
	}
	defer it.Close()

	statuses := make([]Status, 0)
	for it.First(); it.Valid(); it.Next() {
		var st Status
		if err := json.Unmarshal(it.Value(), &st); err != nil {
			return nil, fmt.Errorf("failed to decode update status: %w", err)
		}
		statuses = append(statuses, st)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan update statuses: %w", err)
	}
	return statuses, nil
}

// each visits every persisted status across all indexes.
func (s *store) each(fn func(index uuid.UUID, st Status) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{statusPrefix},
		UpperBound: []byte{statusPrefix + 1},
	})
	if err != nil {
		return fmt.Errorf("failed to scan status log: %w", err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) != 1+16+8 {
			return fmt.Errorf("malformed status log key of length %d", len(key))
		}
		var index uuid.UUID
		copy(index[:], key[1:17])
		var st Status
		if err := json.Unmarshal(it.Value(), &st); err != nil {
			return fmt.Errorf("failed to decode update status: %w", err)
		}
		if err := fn(index, st); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("failed to scan status log: %w", err)
	}
	return nil
}

// deleteIndex drops every status and the id counter for one index.
func (s *store) deleteIndex(index uuid.UUID) error {
	lower := statusKey(index, 0)[:17]
	if err := s.db.DeleteRange(lower, prefixSuccessor(lower), pebble.Sync); err != nil {
		return fmt.Errorf("failed to drop update statuses: %w", err)
	}
	if err := s.db.Delete(counterKey(index), pebble.Sync); err != nil {
		return fmt.Errorf("failed to drop update counter: %w", err)
	}
	return nil
}

func (s *store) close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close status log: %w", err)
	}
	return nil
}

// pebbleLogger routes pebble's internal logging into slog instead of
// letting it write to stderr directly.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...any) {
	slog.Debug("status log", "message", fmt.Sprintf(format, args...))
}

func (pebbleLogger) Errorf(format string, args ...any) {
	slog.Error("status log", "message", fmt.Sprintf(format, args...))
}

func (pebbleLogger) Fatalf(format string, args ...any) {
	slog.Error("status log", "message", fmt.Sprintf(format, args...))
}
