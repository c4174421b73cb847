// Package server exposes saved graphs over HTTP: clients open a
// streaming session against a graph, feed audio feature frames step by
// step and read the outputs back.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/reuben/kws-streaming/api"
	"github.com/reuben/kws-streaming/envconfig"
	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/version"
)

const graphExt = ".sgraph"

func NewServer() *Server {
	return &Server{
		GraphsDir:   envconfig.GraphsDir,
		MaxSessions: envconfig.MaxSessions,
		sessions:    newSessionTable(),
	}
}

// GenerateRoutes builds the gin handler tree.
func (s *Server) GenerateRoutes() http.Handler {
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.Version})
	})
	r.HEAD("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/api/graphs", s.ListGraphsHandler)
	r.POST("/api/sessions", s.CreateSessionHandler)
	r.GET("/api/sessions", s.ListSessionsHandler)
	r.GET("/api/sessions/:id", s.ShowSessionHandler)
	r.DELETE("/api/sessions/:id", s.DeleteSessionHandler)
	r.POST("/api/sessions/:id/step", s.StepHandler)

	return r
}

// Serve runs the server on ln until the context is cancelled.
func Serve(ctx context.Context, ln net.Listener) error {
	s := NewServer()
	srv := &http.Server{Handler: s.GenerateRoutes()}

	slog.Info("listening", "addr", ln.Addr(), "graphs", s.GraphsDir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

func (s *Server) ListGraphsHandler(c *gin.Context) {
	entries, err := os.ReadDir(s.GraphsDir)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	resp := api.ListGraphsResponse{Graphs: []api.GraphInfo{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), graphExt) {
			continue
		}
		info, err := sgraph.Stat(filepath.Join(s.GraphsDir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable graph", "file", e.Name(), "error", err)
			continue
		}
		info.Name = strings.TrimSuffix(e.Name(), graphExt)
		resp.Graphs = append(resp.Graphs, info)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateSessionHandler(c *gin.Context) {
	var req api.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if req.Graph == "" || strings.Contains(req.Graph, "/") || strings.Contains(req.Graph, "..") {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid graph name %q", req.Graph))
		return
	}

	sess, err := s.createSession(req)
	if errors.Is(err, os.ErrNotExist) {
		abort(c, http.StatusNotFound, fmt.Errorf("graph %q not found", req.Graph))
		return
	} else if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	c.JSON(http.StatusOK, sess.info())
}

func (s *Server) ListSessionsHandler(c *gin.Context) {
	resp := api.ListSessionsResponse{Sessions: []api.SessionInfo{}}
	for _, sess := range s.sessions.all() {
		resp.Sessions = append(resp.Sessions, sess.info())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ShowSessionHandler(c *gin.Context) {
	sess, ok := s.sessions.get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("session %q not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, sess.info())
}

func (s *Server) DeleteSessionHandler(c *gin.Context) {
	if !s.sessions.remove(c.Param("id")) {
		abort(c, http.StatusNotFound, fmt.Errorf("session %q not found", c.Param("id")))
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) StepHandler(c *gin.Context) {
	sess, ok := s.sessions.get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("session %q not found", c.Param("id")))
		return
	}

	var req api.StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	resp, err := sess.step(req)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, api.Error{Code: int32(code), Message: err.Error()})
}
