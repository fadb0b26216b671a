package store

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testRecord(entityType, id string, fields map[string]any, offset time.Duration) record.Record {
	return record.Record{
		Type:         entityType,
		ID:           id,
		Fields:       fields,
		LastModified: testEpoch.Add(offset),
		Source:       record.SourceLocal,
	}
}

func testQueueItem(id, entityType, recordID string, priority int) record.QueueItem {
	return record.QueueItem{
		ID:         id,
		EntityType: entityType,
		RecordID:   recordID,
		Operation:  record.OpCreate,
		Payload:    map[string]any{"id": recordID},
		Priority:   priority,
		MaxRetries: 3,
		EnqueuedAt: testEpoch,
	}
}

// prefixSealer is a reversible stand-in for the AES sealer.
type prefixSealer struct{}

func (prefixSealer) Seal(plaintext []byte) (string, error) {
	return "sealed:" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (prefixSealer) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, "sealed:") {
		return nil, errors.New("not sealed")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "sealed:"))
}
