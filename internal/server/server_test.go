package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealcetexplains-png/mender/internal/heal"
)

func newTestServer(healRun HealFunc) *Server {
	return New(Config{Addr: ":0"}, healRun)
}

func postRun(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestSubmitAndPoll(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestServer(func(ctx context.Context, req heal.RunRequest) *heal.RunReport {
		close(started)
		<-release
		return &heal.RunReport{
			RepoURL:    req.RepoURL,
			TeamName:   req.TeamName,
			TeamLeader: req.TeamLeader,
			BranchName: heal.BranchName(req.TeamName, req.TeamLeader),
			CIStatus:   "PASSED",
		}
	})

	w := postRun(t, s, `{"repo_url":"https://github.com/acme/app","team_name":"acme","team_leader":"jane"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var submit map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submit))
	taskID := submit["task_id"]
	require.NotEmpty(t, taskID)

	<-started
	// Still running: the poll endpoint reports status only.
	res := httptest.NewRecorder()
	s.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/result/"+taskID, nil))
	require.Equal(t, http.StatusOK, res.Code)
	var running map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &running))
	assert.Equal(t, "running", running["status"])

	close(release)
	require.Eventually(t, func() bool {
		res := httptest.NewRecorder()
		s.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/result/"+taskID, nil))
		var report heal.RunReport
		if err := json.Unmarshal(res.Body.Bytes(), &report); err != nil {
			return false
		}
		return report.CIStatus == "PASSED" && report.BranchName == "ACME_JANE_AI_FIX"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmit_SchemaValidation(t *testing.T) {
	s := newTestServer(func(ctx context.Context, req heal.RunRequest) *heal.RunReport {
		t.Fatal("run must not start on invalid input")
		return nil
	})

	cases := []string{
		`{}`,
		`{"repo_url":"","team_name":"a","team_leader":"b"}`,
		`{"repo_url":"ftp://nope","team_name":"a","team_leader":"b"}`,
		`{"repo_url":"https://github.com/a/b","team_name":"a"}`,
		`{"repo_url":"https://github.com/a/b","team_name":"a","team_leader":"b","bogus":1}`,
		`not json`,
	}
	for _, body := range cases {
		w := postRun(t, s, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", body)
	}
}

func TestGetResult_NotFound(t *testing.T) {
	s := newTestServer(nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/result/01JUNK", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunError_Reported(t *testing.T) {
	s := newTestServer(func(ctx context.Context, req heal.RunRequest) *heal.RunReport {
		panic("boom")
	})
	w := postRun(t, s, `{"repo_url":"https://github.com/acme/app","team_name":"a","team_leader":"b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var submit map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submit))

	require.Eventually(t, func() bool {
		res := httptest.NewRecorder()
		s.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/result/"+submit["task_id"], nil))
		var payload map[string]string
		if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
			return false
		}
		return payload["status"] == "error" && strings.Contains(payload["error"], "boom")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCSRF_CrossOriginPostBlocked(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Localhost origins pass through to normal validation.
	req = httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(`{}`))
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistry_DuplicateIDRejected(t *testing.T) {
	r := NewRunRegistry()
	require.NoError(t, r.Register("t1", &RunState{TaskID: "t1"}))
	assert.Error(t, r.Register("t1", &RunState{TaskID: "t1"}))
	_, ok := r.Get("t1")
	assert.True(t, ok)
	assert.Equal(t, []string{"t1"}, r.List())
}
