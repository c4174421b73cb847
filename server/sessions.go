package server

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/google/uuid"
	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/api"
	"github.com/reuben/kws-streaming/convert"
	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/layers"
)

type Server struct {
	GraphsDir   string
	MaxSessions int

	sessions *sessionTable
}

// session is one live streaming run of a graph. Its runner carries the
// ring buffer state between step calls; the mutex serializes steps so
// concurrent requests cannot interleave buffer shifts.
type session struct {
	mu sync.Mutex

	id     string
	graph  string
	mode   layers.Mode
	batch  int
	steps  int
	runner *convert.Runner
}

func (s *session) info() api.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.SessionInfo{
		ID:        s.id,
		Graph:     s.graph,
		Mode:      s.mode,
		BatchSize: s.batch,
		Steps:     s.steps,
	}
}

func (s *session) step(req api.StepRequest) (api.StepResponse, error) {
	if len(req.Shape) < 3 {
		return api.StepResponse{}, fmt.Errorf("input shape %v must be [batch, time, features]", req.Shape)
	}
	n := 1
	for _, d := range req.Shape {
		if d < 1 {
			return api.StepResponse{}, fmt.Errorf("input shape %v has a non-positive axis", req.Shape)
		}
		n *= d
	}
	if n != len(req.Input) {
		return api.StepResponse{}, fmt.Errorf("shape %v wants %d values, got %d", req.Shape, n, len(req.Input))
	}
	if req.Shape[0] != s.batch {
		return api.StepResponse{}, fmt.Errorf("batch %d does not match session batch %d", req.Shape[0], s.batch)
	}

	data := make([]float32, len(req.Input))
	copy(data, req.Input)
	x := tensor.New(tensor.WithShape(req.Shape...), tensor.WithBacking(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	// non-streaming sessions see the whole input at once; streaming
	// sessions consume it step by step through their ring buffers
	var out *tensor.Dense
	var err error
	if s.mode.Streaming() {
		out, err = convert.RunSequence(s.runner, x)
	} else {
		out, err = s.runner.Pipeline().Forward(x)
	}
	if err != nil {
		return api.StepResponse{}, err
	}
	s.steps += req.Shape[1]

	return api.StepResponse{
		Shape:  []int(out.Shape()),
		Output: out.Data().([]float32),
		Steps:  s.steps,
	}, nil
}

// sessionTable tracks live sessions in creation order so the oldest
// one can be evicted when the table is full.
type sessionTable struct {
	mu    sync.Mutex
	byID  map[string]*session
	order *arraylist.List
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byID:  make(map[string]*session),
		order: arraylist.New(),
	}
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	return s, ok
}

func (t *sessionTable) all() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*session, 0, t.order.Size())
	it := t.order.Iterator()
	for it.Next() {
		out = append(out, t.byID[it.Value().(string)])
	}
	return out
}

func (t *sessionTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	if i := t.order.IndexOf(id); i >= 0 {
		t.order.Remove(i)
	}
	return true
}

// add inserts a session, evicting the oldest one when the table holds
// max entries already.
func (t *sessionTable) add(s *session, max int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for max > 0 && t.order.Size() >= max {
		oldest, _ := t.order.Get(0)
		t.order.Remove(0)
		delete(t.byID, oldest.(string))
		slog.Info("evicted oldest session", "session", oldest)
	}

	t.byID[s.id] = s
	t.order.Add(s.id)
}

func (s *Server) createSession(req api.CreateSessionRequest) (*session, error) {
	mode := req.Mode
	if mode == layers.Training {
		mode = layers.StreamInternalStateInference
	}
	if !mode.Streaming() && mode != layers.NonStreamInference {
		return nil, fmt.Errorf("unsupported session mode %s", mode)
	}

	batch := req.BatchSize
	if batch < 1 {
		batch = 1
	}

	p, err := sgraph.LoadAs(filepath.Join(s.GraphsDir, req.Graph+graphExt), mode, batch)
	if err != nil {
		return nil, err
	}

	sess := &session{
		id:     uuid.New().String(),
		graph:  req.Graph,
		mode:   mode,
		batch:  batch,
		runner: convert.NewRunner(p),
	}
	s.sessions.add(sess, s.MaxSessions)

	slog.Info("created session", "session", sess.id, "graph", req.Graph, "mode", mode)
	return sess, nil
}
