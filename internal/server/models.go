package server

import (
	"time"

	"apphost/internal/db"
	"apphost/internal/graph"
	"apphost/internal/runstate"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Uptime string `json:"uptime"`
}

// EndpointResponse is one endpoint of a resource
type EndpointResponse struct {
	Name     string `json:"name"`
	Scheme   string `json:"scheme"`
	Port     int    `json:"port,omitempty"`
	URL      string `json:"url,omitempty"`
	External bool   `json:"external,omitempty"`
}

// ResourceResponse is the status of one resource
type ResourceResponse struct {
	Name      string                `json:"name"`
	Kind      string                `json:"kind"`
	State     runstate.State        `json:"state"`
	Since     time.Time             `json:"since"`
	Error     string                `json:"error,omitempty"`
	Endpoints []EndpointResponse    `json:"endpoints"`
	DependsOn []string              `json:"depends_on,omitempty"`
	History   []runstate.Transition `json:"history,omitempty"`
}

// StatusResponse is returned by GET /api/resources
type StatusResponse struct {
	RunID     string             `json:"run_id"`
	Resources []ResourceResponse `json:"resources"`
}

// GraphResponse is returned by GET /api/graph
type GraphResponse struct {
	RunID string         `json:"run_id"`
	Graph graph.Snapshot `json:"graph"`
}

// RunDetailResponse is returned by GET /api/runs/:id
type RunDetailResponse struct {
	Run         *db.Run          `json:"run"`
	Transitions []*db.Transition `json:"transitions"`
}
