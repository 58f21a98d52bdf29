package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"synmigrate/internal/db"
	"synmigrate/internal/model"
	"synmigrate/internal/repository"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *repository.RunRepository, *repository.FingerprintRepository) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	runs := repository.NewRunRepository(conn)
	fps := repository.NewFingerprintRepository(conn)
	return New(runs, fps, "127.0.0.1:0"), runs, fps
}

func get(t *testing.T, s *Server, target string, out any) int {
	t.Helper()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func seedRun(t *testing.T, runs *repository.RunRepository, id string, started time.Time, statuses ...model.RepoStatus) {
	t.Helper()

	run := &model.Run{RunID: id, Manifest: "repos.csv", Store: "synapse", StartedAt: started, FinishedAt: started.Add(time.Minute)}
	for i, st := range statuses {
		run.Outcomes = append(run.Outcomes, model.RepoOutcome{
			RunID:    id,
			Position: i,
			URL:      "https://h/repo" + string(rune('a'+i)),
			Status:   st,
		})
	}
	require.NoError(t, runs.Save(run))
}

func TestStatus(t *testing.T) {
	s, runs, _ := newTestServer(t)
	seedRun(t, runs, "r1", time.Now(), model.RepoStatusSuccess, model.RepoStatusFailed, model.RepoStatusPartial)

	var body struct {
		Status string           `json:"status"`
		Stats  repository.Stats `json:"stats"`
	}
	require.Equal(t, http.StatusOK, get(t, s, "/status", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, repository.Stats{Runs: 1, Repos: 3, Failed: 1, Partial: 1}, body.Stats)
}

func TestRuns(t *testing.T) {
	s, runs, _ := newTestServer(t)
	now := time.Now()
	seedRun(t, runs, "old", now.Add(-time.Hour), model.RepoStatusSuccess)
	seedRun(t, runs, "new", now, model.RepoStatusFailed, model.RepoStatusSuccess)

	var list struct {
		Runs []model.Run `json:"runs"`
	}
	require.Equal(t, http.StatusOK, get(t, s, "/runs?n=1", &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "new", list.Runs[0].RunID)
	require.Len(t, list.Runs[0].Outcomes, 2)
	assert.Equal(t, 0, list.Runs[0].Outcomes[0].Position)

	var run model.Run
	require.Equal(t, http.StatusOK, get(t, s, "/runs/old", &run))
	assert.Equal(t, "repos.csv", run.Manifest)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/runs/missing", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/runs?n=zero", nil))
}

func TestFingerprints(t *testing.T) {
	s, _, fps := newTestServer(t)
	require.NoError(t, fps.SaveAll([]model.Fingerprint{
		{RepoID: "b", Path: "x.go", Hash: "h1", RemoteID: "syn1"},
		{RepoID: "a", Path: "z.go", Hash: "h2", RemoteID: "syn2"},
		{RepoID: "a", Path: "y.go", Hash: "h3", RemoteID: "syn3"},
	}))

	var repos struct {
		Repos []string `json:"repos"`
	}
	require.Equal(t, http.StatusOK, get(t, s, "/fingerprints", &repos))
	assert.Equal(t, []string{"a", "b"}, repos.Repos)

	var records struct {
		Repo         string              `json:"repo"`
		Fingerprints []model.Fingerprint `json:"fingerprints"`
	}
	require.Equal(t, http.StatusOK, get(t, s, "/fingerprints?repo=a", &records))
	require.Len(t, records.Fingerprints, 2)
	assert.Equal(t, "y.go", records.Fingerprints[0].Path)
}
