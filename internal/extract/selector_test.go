package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempRuleSet(t *testing.T) string {
	t.Helper()
	payload := `name: jobs
records:
  kind: css
  expr: div.job-card
identity_field: url
fields:
  title:
    kind: css
    expr: h2.title
    transform: trim
    required: true
  url:
    kind: css
    expr: a.link
    attr: href
    required: true
`
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))
	return path
}

func TestLoadRuleSetFileRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\nfields: {}\n"), 0o600))
	_, err := LoadRuleSetFile(path)
	require.Error(t, err)

	_, err = LoadRuleSetFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
