// Package api holds the wire types shared by the server, the client
// side of the CLI, and the graph file format.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/reuben/kws-streaming/layers"
)

type Error struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %v", e.Code, strings.ToLower(http.StatusText(int(e.Code))))
	}
	return e.Message
}

// OpConfig describes one operator of a pipeline. Type selects the
// operator; Params carries its scalar settings. Residual ops leave
// Params empty and nest their branches in Body and Skip instead.
type OpConfig struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Body   []OpConfig     `json:"body,omitempty"`
	Skip   []OpConfig     `json:"skip,omitempty"`
}

// GraphConfig is the structural half of a saved graph: everything
// except the weight data.
type GraphConfig struct {
	Name      string      `json:"name"`
	Mode      layers.Mode `json:"mode"`
	BatchSize int         `json:"batch_size"`
	Ops       []OpConfig  `json:"ops"`
}

type CreateSessionRequest struct {
	Graph     string      `json:"graph"`
	Mode      layers.Mode `json:"mode,omitempty"`
	BatchSize int         `json:"batch_size,omitempty"`
}

type SessionInfo struct {
	ID        string      `json:"id"`
	Graph     string      `json:"graph"`
	Mode      layers.Mode `json:"mode"`
	BatchSize int         `json:"batch_size"`
	Steps     int         `json:"steps"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// StepRequest feeds one or more time steps into a session. Input is
// row major over [batch, time, features].
type StepRequest struct {
	Shape []int     `json:"shape"`
	Input []float32 `json:"input"`
}

type StepResponse struct {
	Shape  []int     `json:"shape"`
	Output []float32 `json:"output"`
	Steps  int       `json:"steps"`
}

type GraphInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Ops      int    `json:"ops"`
	Modified string `json:"modified,omitempty"`
}

type ListGraphsResponse struct {
	Graphs []GraphInfo `json:"graphs"`
}
