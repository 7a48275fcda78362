package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `rules:
  - gender: m
    countries: [JPN]
    app_categories: [IAB3]
    device_models: [iPhone]
    hours: [6]
    latitude: 34.79
    longitude: 138.86
    radius_km: 5
`

const matchingRequest = `{
	"user": {"gender": "m"},
	"geo": {"country": "JPN", "lat": "34.80", "lon": "138.87"},
	"device": {"model": "iPhone"},
	"app": {"cat": "IAB3"},
	"eventTs": "1704090600000"
}`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configFile, dbURL, logLevel, logFormat = "", "", "info", "text"

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func useMemFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	prev := matchFS
	matchFS = fs
	t.Cleanup(func() { matchFS = prev })
	return fs
}

func TestMatchCommand(t *testing.T) {
	fs := useMemFS(t)
	require.NoError(t, afero.WriteFile(fs, "/rules.yaml", []byte(testRules), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/hit.json", []byte(matchingRequest), 0o644))
	miss := strings.Replace(matchingRequest, `"gender": "m"`, `"gender": "f"`, 1)
	require.NoError(t, afero.WriteFile(fs, "/miss.json", []byte(miss), 0o644))

	stdout, stderr, err := execute(t, "match", "--rules", "/rules.yaml", "/hit.json", "/miss.json")
	require.NoError(t, err)
	assert.Equal(t, "rules=1 submitted=2 matched=1 skipped=0\n", stdout)
	assert.Contains(t, stderr, "bid request matched")
	assert.Contains(t, stderr, "rule_id=Rule")
}

func TestMatchCommand_SkipsBadFiles(t *testing.T) {
	fs := useMemFS(t)
	require.NoError(t, afero.WriteFile(fs, "/rules.yaml", []byte(testRules), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/hit.json", []byte(matchingRequest), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"user": {}}`), 0o644))

	stdout, _, err := execute(t, "match", "--rules", "/rules.yaml", "/bad.json", "/missing.json", "/hit.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/bad.json")
	assert.Equal(t, "rules=1 submitted=1 matched=1 skipped=2\n", stdout)
}

func TestMatchCommand_RequiresRules(t *testing.T) {
	useMemFS(t)
	_, _, err := execute(t, "match", "--rules", "", "/hit.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--rules required")
}

func TestMigrateCommands(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "cli.db")

	stdout, _, err := execute(t, "migrate", "status", "--db-url", url)
	require.NoError(t, err)
	assert.Contains(t, stdout, "001_initial_schema.sql")
	assert.Contains(t, stdout, "pending")

	stdout, _, err = execute(t, "migrate", "up", "--db-url", url)
	require.NoError(t, err)
	assert.Contains(t, stdout, "applied 001_initial_schema.sql")

	stdout, _, err = execute(t, "migrate", "up", "--db-url", url)
	require.NoError(t, err)
	assert.Equal(t, "database is up to date\n", stdout)

	_, _, err = execute(t, "migrate", "up")
	assert.ErrorContains(t, err, "--db-url required")
}

func TestAPIKeyCommands(t *testing.T) {
	t.Setenv("BK_HMAC_SECRET", "0123456789abcdef0123456789abcdef:"+
		"c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0LXNlY3JldA==")
	url := "sqlite://" + filepath.Join(t.TempDir(), "keys.db")

	_, _, err := execute(t, "apikey", "create", "exchange-1", "--db-url", url)
	assert.ErrorContains(t, err, "migrate up")

	_, _, err = execute(t, "migrate", "up", "--db-url", url)
	require.NoError(t, err)

	stdout, _, err := execute(t, "apikey", "create", "exchange-1", "--db-url", url, "--name", "primary")
	require.NoError(t, err)
	assert.Contains(t, stdout, "api_key:    bk-v1-0123456789abcdef0123456789abcdef-")

	var keyID string
	for _, line := range strings.Split(stdout, "\n") {
		if id, ok := strings.CutPrefix(line, "api_key_id: "); ok {
			keyID = id
		}
	}
	require.NotEmpty(t, keyID)

	stdout, _, err = execute(t, "apikey", "revoke", keyID, "--db-url", url)
	require.NoError(t, err)
	assert.Equal(t, "revoked "+keyID+"\n", stdout)
}

func TestMatchesCommand(t *testing.T) {
	fs := useMemFS(t)
	require.NoError(t, afero.WriteFile(fs, "/rules.yaml", []byte(testRules), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/hit.json", []byte(matchingRequest), 0o644))
	url := "sqlite://" + filepath.Join(t.TempDir(), "matches.db")

	_, _, err := execute(t, "migrate", "up", "--db-url", url)
	require.NoError(t, err)
	_, _, err = execute(t, "match", "--rules", "/rules.yaml", "--db-url", url, "/hit.json", "/hit.json")
	require.NoError(t, err)

	stdout, _, err := execute(t, "matches", "--db-url", url, "--rule", "Rule0", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Rule0")
	assert.Contains(t, stdout, "listed 1 of 2 stored matches")

	stdout, _, err = execute(t, "matches", "--db-url", url, "--rule", "Rule7", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, stdout, "listed 0 of 2 stored matches")

	_, _, err = execute(t, "matches", "--db-url", url, "--rule", "rule-zero")
	assert.ErrorContains(t, err, "--rule")

	_, _, err = execute(t, "matches", "--db-url", url, "--rule", "", "--limit", "0")
	assert.ErrorContains(t, err, "--limit")
}
