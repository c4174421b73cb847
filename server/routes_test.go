package server

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/reuben/kws-streaming/api"
	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	rnd := rand.New(rand.NewSource(1))
	p, err := model.NewDSTCResNet(model.DSTCResNetConfig{
		Features: 2,
		Blocks: []model.DSTCBlock{
			{Filters: 3, KernelSize: 3, Dilation: 1, Residual: true},
		},
	}, rnd)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, sgraph.Save(filepath.Join(dir, "tiny.sgraph"), p))

	s := &Server{GraphsDir: dir, MaxSessions: 2, sessions: newSessionTable()}
	return s, s.GenerateRoutes()
}

func do(t *testing.T, h http.Handler, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func TestListGraphs(t *testing.T) {
	_, h := newTestServer(t)

	var resp api.ListGraphsResponse
	w := do(t, h, http.MethodGet, "/api/graphs", nil, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Graphs, 1)
	require.Equal(t, "tiny", resp.Graphs[0].Name)
	// residual block, its three streams, and the trailing activation
	require.Equal(t, 5, resp.Graphs[0].Ops)
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	var sess api.SessionInfo
	w := do(t, h, http.MethodPost, "/api/sessions",
		api.CreateSessionRequest{Graph: "tiny"}, &sess)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, layers.StreamInternalStateInference, sess.Mode)

	var step api.StepResponse
	w = do(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/step",
		api.StepRequest{Shape: []int{1, 1, 2}, Input: []float32{0.5, -0.5}}, &step)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []int{1, 1, 3}, step.Shape)
	require.Equal(t, 1, step.Steps)

	// feeding three steps at once advances the counter by three
	w = do(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/step",
		api.StepRequest{Shape: []int{1, 3, 2}, Input: make([]float32, 6)}, &step)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 4, step.Steps)

	var list api.ListSessionsResponse
	w = do(t, h, http.MethodGet, "/api/sessions", nil, &list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, list.Sessions, 1)
	require.Equal(t, 4, list.Sessions[0].Steps)

	w = do(t, h, http.MethodDelete, "/api/sessions/"+sess.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/sessions/"+sess.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionEviction(t *testing.T) {
	_, h := newTestServer(t)

	ids := make([]string, 3)
	for i := range ids {
		var sess api.SessionInfo
		w := do(t, h, http.MethodPost, "/api/sessions",
			api.CreateSessionRequest{Graph: "tiny"}, &sess)
		require.Equal(t, http.StatusOK, w.Code)
		ids[i] = sess.ID
	}

	// MaxSessions is 2: the first session is gone, the last two remain
	w := do(t, h, http.MethodGet, "/api/sessions/"+ids[0], nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var list api.ListSessionsResponse
	do(t, h, http.MethodGet, "/api/sessions", nil, &list)
	require.Len(t, list.Sessions, 2)
}

func TestCreateSessionErrors(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/sessions",
		api.CreateSessionRequest{Graph: "missing"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/api/sessions",
		api.CreateSessionRequest{Graph: "../tiny"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStepValidation(t *testing.T) {
	_, h := newTestServer(t)

	var sess api.SessionInfo
	w := do(t, h, http.MethodPost, "/api/sessions",
		api.CreateSessionRequest{Graph: "tiny"}, &sess)
	require.Equal(t, http.StatusOK, w.Code)

	// wrong value count for the declared shape
	w = do(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/step",
		api.StepRequest{Shape: []int{1, 1, 2}, Input: []float32{1}}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// wrong batch
	w = do(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/step",
		api.StepRequest{Shape: []int{2, 1, 2}, Input: make([]float32, 4)}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
