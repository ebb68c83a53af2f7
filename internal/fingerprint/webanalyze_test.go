package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/anstrom/nemesis/internal/errors"
)

const sampleOutput = `{"hostname":"http://10.0.0.5:80","ip":"","matches":[{"app_name":"Nginx","version":"1.25.3"}]}
{"hostname":"http://10.0.0.5:80/login","ip":"","matches":[]}
`

func TestWebanalyze_Args(t *testing.T) {
	w := NewWebanalyze(Options{Crawl: 2}, nil)
	assert.Equal(t, []string{"-host", "http://h:80", "-crawl", "2", "-output", "json", "-silent"}, w.Args("http://h:80"))

	withApps := NewWebanalyze(Options{AppsFile: "/etc/nemesis/technologies.json"}, nil)
	args := withApps.Args("https://h:443")
	assert.Equal(t, []string{"-apps", "/etc/nemesis/technologies.json"}, args[len(args)-2:])
}

func TestWebanalyze_Fingerprint(t *testing.T) {
	var gotName string
	var gotArgs []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return []byte(sampleOutput), nil
	}

	w := NewWebanalyze(Options{}, run)
	result, err := w.Fingerprint(context.Background(), "http://10.0.0.5:80")
	require.NoError(t, err)

	assert.Equal(t, DefaultBinary, gotName)
	assert.Equal(t, "http://10.0.0.5:80", gotArgs[1])
	require.Len(t, result, 2)

	first, ok := result[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.5:80", first["hostname"])
	matches, ok := first["matches"].([]any)
	require.True(t, ok)
	assert.Len(t, matches, 1)
}

func TestWebanalyze_Failures(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		err      error
		wantCode nerrors.ErrorCode
	}{
		{"not installed", "", &exec.Error{Name: "webanalyze", Err: exec.ErrNotFound}, nerrors.CodeNotInstalled},
		{"absolute path missing", "", &exec.Error{Name: "/opt/webanalyze/webanalyze", Err: fs.ErrNotExist}, nerrors.CodeNotInstalled},
		{"non-zero exit", "", fmt.Errorf("exit status 2: could not load apps"), nerrors.CodeExecution},
		{"empty output", "", nil, nerrors.CodeExecution},
		{"garbage output", "Scanning http://h:80 ...", nil, nerrors.CodeExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte(tt.out), tt.err
			}

			result, err := NewWebanalyze(Options{}, run).Fingerprint(context.Background(), "http://h:80")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.wantCode, nerrors.GetCode(err))
			assert.Equal(t, "webanalyze", nerrors.Operation(err))
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
			}
		})
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner(context.Background(), "nemesis-definitely-not-a-real-binary")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestWebanalyze_ConfiguredBinaryMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "webanalyze")

	_, err := NewWebanalyze(Options{Binary: missing}, nil).Fingerprint(context.Background(), "http://h:80")
	require.Error(t, err)
	assert.Equal(t, nerrors.CodeNotInstalled, nerrors.GetCode(err))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
