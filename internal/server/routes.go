package server

import (
	"net/http"
	"strconv"
	"time"

	"apphost/internal/db"
	"apphost/internal/errors"
	"apphost/internal/runstate"

	"github.com/labstack/echo/v4"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/resources", s.handleListResources)
	api.GET("/resources/:name", s.handleGetResource)
	api.GET("/graph", s.handleGraph)
	api.GET("/events", s.handleEvents)

	runs := api.Group("/runs")
	runs.GET("", s.handleListRuns)
	runs.GET("/:id", s.handleGetRun)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		RunID:  s.source.RunID(),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleListResources(c echo.Context) error {
	return c.JSON(http.StatusOK, Status(s.source))
}

func (s *Server) handleGetResource(c echo.Context) error {
	name := c.Param("name")
	for _, rec := range s.source.Snapshot() {
		if rec.Name == name {
			return c.JSON(http.StatusOK, Resource(s.source, rec, true))
		}
	}
	return errors.ToHTTPError(errors.ResourceNotFound(name))
}

// Status builds the status of every resource known to source
func Status(source Source) StatusResponse {
	records := source.Snapshot()
	resp := StatusResponse{
		RunID:     source.RunID(),
		Resources: make([]ResourceResponse, 0, len(records)),
	}
	for _, rec := range records {
		resp.Resources = append(resp.Resources, Resource(source, rec, false))
	}
	return resp
}

// Resource builds the status of one resource, optionally with its
// transition history
func Resource(source Source, rec runstate.Record, withHistory bool) ResourceResponse {
	g := source.Graph()
	res, _ := g.Resource(rec.Name)
	bindings := source.Bindings(rec.Name)

	resp := ResourceResponse{
		Name:      rec.Name,
		Kind:      string(res.Kind),
		State:     rec.State,
		Since:     rec.Since,
		Error:     rec.Error,
		Endpoints: make([]EndpointResponse, 0, len(res.Endpoints)),
		DependsOn: g.Producers(rec.Name),
	}
	for _, ep := range res.Endpoints {
		out := EndpointResponse{Name: ep.Name, Scheme: ep.Scheme, Port: ep.Port, External: ep.External}
		if b, ok := bindings[ep.Name]; ok {
			out.Port = b.Port
			out.URL = b.URL()
		}
		resp.Endpoints = append(resp.Endpoints, out)
	}
	if withHistory {
		resp.History = rec.History
	}
	return resp
}

func (s *Server) handleGraph(c echo.Context) error {
	g := s.source.Graph()
	switch c.QueryParam("format") {
	case "", "json":
		return c.JSON(http.StatusOK, GraphResponse{RunID: s.source.RunID(), Graph: g.Export()})
	case "dot":
		return c.String(http.StatusOK, g.DOT())
	case "mermaid":
		return c.String(http.StatusOK, g.Mermaid())
	default:
		return errors.ToHTTPError(errors.NewWithDetails(errors.ErrValidation, "Invalid query parameter", "format must be json, dot or mermaid"))
	}
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is disabled")
	}

	opts := db.DefaultPaginationOptions()
	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return errors.ToHTTPError(errors.NewWithDetails(errors.ErrValidation, "Invalid query parameter", "page must be a number"))
		}
		opts.Page = page
	}
	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return errors.ToHTTPError(errors.NewWithDetails(errors.ErrValidation, "Invalid query parameter", "page_size must be a number"))
		}
		opts.PageSize = size
	}

	page, err := s.history.ListRuns(c.Request().Context(), opts)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is disabled")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	run, err := s.history.GetRun(ctx, id)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	transitions, err := s.history.ListTransitions(ctx, id)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, RunDetailResponse{Run: run, Transitions: transitions})
}
