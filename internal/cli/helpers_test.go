package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/testutil"
)

// testNode is a config file, database path and fake central authority.
type testNode struct {
	t       *testing.T
	central *testutil.FakeCentral
	dbPath  string
	config  string
}

func newTestNode(t *testing.T, extraYAML string) *testNode {
	t.Helper()
	dir := t.TempDir()
	central := testutil.NewFakeCentral(t)
	dbPath := filepath.Join(dir, "node.db")

	cfg := fmt.Sprintf(`store_id: store-1
database: %s
central:
  url: %s
  timeout: 2s
sync:
  max_retries: 1
  watched_types: [product]
%s`, dbPath, central.URL(), extraYAML)

	path := filepath.Join(dir, "storesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &testNode{t: t, central: central, dbPath: dbPath, config: path}
}

// execute runs the root command with the node's config and returns stdout.
func (n *testNode) execute(args ...string) (string, error) {
	return n.executeContext(context.Background(), args...)
}

func (n *testNode) executeContext(ctx context.Context, args ...string) (string, error) {
	n.t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", n.config, "--env-file="}, args...))
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// openStore opens the node database directly; it is closed with the test.
func (n *testNode) openStore() *store.Store {
	n.t.Helper()
	s, err := store.Open(n.dbPath)
	require.NoError(n.t, err)
	n.t.Cleanup(func() { s.Close() })
	return s
}

// recordProduct writes a local product change and its queue item.
func (n *testNode) recordProduct(id string) {
	n.t.Helper()
	s, err := store.Open(n.dbPath)
	require.NoError(n.t, err)
	defer s.Close()

	eng := engine.New(s, nil,
		engine.WithMaxRetries(1),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	_, err = eng.RecordChange(context.Background(), record.Record{
		Type:         record.TypeProduct,
		ID:           id,
		Fields:       map[string]any{"name": "Tea"},
		LastModified: testutil.Epoch,
	}, record.OpCreate)
	require.NoError(n.t, err)
}

// decodeData unmarshals the data of a JSON CLI response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
