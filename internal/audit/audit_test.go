package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordRequestInsertsRow(t *testing.T) {
	r := openTestRecorder(t)
	r.RecordRequest("stateless", 5*time.Millisecond)

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM requests`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecordJoinInsertsRow(t *testing.T) {
	r := openTestRecorder(t)
	r.RecordJoin("1.2.3.4:1000", "alice", true)

	var name string
	var accepted bool
	require.NoError(t, r.db.QueryRow(`SELECT name, accepted FROM joins`).Scan(&name, &accepted))
	assert.Equal(t, "alice", name)
	assert.True(t, accepted)
}

func TestRecordRedirectInsertsRow(t *testing.T) {
	r := openTestRecorder(t)
	r.RecordRedirect("1.2.3.4:1000", "10.0.0.1:27016", 14)

	var backend string
	var score int
	require.NoError(t, r.db.QueryRow(`SELECT backend, score FROM redirects`).Scan(&backend, &score))
	assert.Equal(t, "10.0.0.1:27016", backend)
	assert.Equal(t, 14, score)
}
