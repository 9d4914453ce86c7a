package cli

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/autopilot/id"
	"github.com/rustyeddy/autopilot/ledger"
)

// These tests mutate the package-level flag variables, so they run serially.

func seedLedger(t *testing.T, name string) (string, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.NewSQLite(path)
	assert.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	sess := ledger.Session{ID: id.New(), Name: name, CreatedAt: now, LastActiveAt: now}
	assert.NoError(t, store.UpsertSession(sess))
	return path, sess.ID
}

func TestResumeFallsBackToLedgerWhenProcessDown(t *testing.T) {
	path, sessID := seedLedger(t, "btc-swing")

	dbPath = path
	opsAddr = "http://127.0.0.1:1" // nothing listens here

	assert.NoError(t, resumeCmd.RunE(resumeCmd, []string{"btc-swing"}))

	store, err := ledger.NewSQLite(path)
	assert.NoError(t, err)
	defer store.Close()

	events, err := store.ListRiskEvents(sessID, 10)
	assert.NoError(t, err)
	if assert.Len(t, events, 1) {
		assert.Equal(t, "operator_reset", events[0].Rule)
		assert.Equal(t, "warning", events[0].Severity)
		assert.Equal(t, "resumed", events[0].Action)
	}
}

func TestResumeOfflineUnknownSession(t *testing.T) {
	path, _ := seedLedger(t, "known")

	dbPath = path
	opsAddr = "http://127.0.0.1:1"

	assert.Error(t, resumeCmd.RunE(resumeCmd, []string{"unknown"}))
}

func TestResumePrefersRunningProcess(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/sessions/btc-swing/resume", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	dbPath = filepath.Join(t.TempDir(), "untouched.db")
	opsAddr = ts.URL

	assert.NoError(t, resumeCmd.RunE(resumeCmd, []string{"btc-swing"}))
	assert.Equal(t, 1, hits)
}

func TestResumeRefusalIsAuthoritative(t *testing.T) {
	// A non-200 from the running process means the process answered; the
	// ledger fallback is only for an unreachable process.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not halted", http.StatusConflict)
	}))
	defer ts.Close()

	dbPath = filepath.Join(t.TempDir(), "untouched.db")
	opsAddr = ts.URL

	err := resumeCmd.RunE(resumeCmd, []string{"btc-swing"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "not halted")
	}
}
