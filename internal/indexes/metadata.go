package indexes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const metadataFile = "meta.json"

// Metadata describes one index. It lives next to the index data as a
// JSON sidecar so the live set can be rebuilt from the data dir alone.
type Metadata struct {
	UUID       uuid.UUID `json:"uuid"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	PrimaryKey string    `json:"primaryKey,omitempty"`
}

func newMetadata(index uuid.UUID, primaryKey string) Metadata {
	now := time.Now().UTC()
	return Metadata{
		UUID:       index,
		CreatedAt:  now,
		UpdatedAt:  now,
		PrimaryKey: primaryKey,
	}
}

func saveMetadata(dir string, m Metadata) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), body, 0o644); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return nil
}

func loadMetadata(dir string) (Metadata, error) {
	body, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(body, &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode index metadata: %w", err)
	}
	return m, nil
}
