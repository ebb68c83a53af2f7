package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/scanning"
)

func sampleResult() scanning.ScanResult {
	return scanning.ScanResult{
		"10.0.0.2": {
			State: "up",
			Ports: []scanning.PortRecord{
				{
					Port:     443,
					Protocol: "tcp",
					State:    "open",
					Service:  scanning.Service{Name: "https", Product: "nginx", Version: "1.25.3"},
					Scripts: map[string]any{
						"vulners":    scanning.ScriptOutput{Raw: "cpe:/a:nginx:nginx", Data: map[string]any{"b": "2", "a": "1"}},
						"webanalyze": []any{map[string]any{"hostname": "https://10.0.0.2:443"}},
					},
				},
			},
		},
		"10.0.0.1": {
			State:     "up",
			Hostnames: []string{"gw.local"},
			Ports: []scanning.PortRecord{
				{Port: 21, Protocol: "tcp", State: "open", Service: scanning.Service{Name: "ftp"}, Scripts: map[string]any{}},
			},
		},
	}
}

func TestFileStore_Persist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	store := NewFileStore(path)
	assert.Equal(t, path, store.Path())

	require.NoError(t, store.Persist(sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "{\n  \"10.0.0.1\": {\n"), "expected two-space indentation and sorted keys, got:\n%s", text)
	assert.Less(t, strings.Index(text, `"10.0.0.1"`), strings.Index(text, `"10.0.0.2"`))
	assert.Less(t, strings.Index(text, `"vulners"`), strings.Index(text, `"webanalyze"`))
	assert.True(t, strings.HasSuffix(text, "}\n"))
}

func TestFileStore_PersistIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	store := NewFileStore(path)

	require.NoError(t, store.Persist(sampleResult()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Persist(sampleResult()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second))
}

func TestFileStore_PersistOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 1<<16)), 0600))

	store := NewFileStore(path)
	require.NoError(t, store.Persist(scanning.ScanResult{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestFileStore_PersistErrors(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		err := NewFileStore(filepath.Join(t.TempDir(), "r.json")).Persist(nil)
		assert.True(t, nerrors.IsCode(err, nerrors.CodePersistence))
	})

	t.Run("traversal", func(t *testing.T) {
		err := NewFileStore("../../etc/result.json").Persist(sampleResult())
		assert.True(t, nerrors.IsCode(err, nerrors.CodePersistence))
	})

	t.Run("path is a directory", func(t *testing.T) {
		dir := t.TempDir()
		err := NewFileStore(dir).Persist(sampleResult())
		assert.True(t, nerrors.IsCode(err, nerrors.CodePersistence))
		assert.True(t, nerrors.IsFatal(err))
	})
}

func TestNewFileStoreDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultPath, NewFileStore("").Path())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, NewFileStore(path).Persist(sampleResult()))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, []string{"gw.local"}, loaded["10.0.0.1"].Hostnames)
	assert.Contains(t, loaded["10.0.0.2"].Ports[0].Scripts, "webanalyze")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, sampleResult())
	out := buf.String()

	assert.Contains(t, out, "10.0.0.1 (gw.local)")
	assert.Contains(t, out, "nginx 1.25.3")
	assert.Contains(t, out, "vulners,webanalyze")
	assert.Less(t, strings.Index(out, "10.0.0.1"), strings.Index(out, "10.0.0.2"))

	buf.Reset()
	PrintSummary(&buf, nil)
	assert.Equal(t, "No results available\n", buf.String())
}
