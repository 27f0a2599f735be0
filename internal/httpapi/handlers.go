package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/memoryd/internal/auth"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// httpError maps core errors onto status codes: not found to 404, every
// other service error to 400. Auth failures never reach here; the
// middleware already answered 401 or 403.
func httpError(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}
	return id, nil
}

type addResponse struct {
	Results []memory.AddItem `json:"results"`
}

func (s *Server) handleAdd(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var req memory.AddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.UserID == "" {
		req.UserID = id.Subject
	}

	items, err := s.core.Add(c.Request().Context(), id.OrgID, id.AgentID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, addResponse{Results: items})
}

func searchRequestFromQuery(c echo.Context) memory.SearchRequest {
	req := memory.SearchRequest{
		Query: c.QueryParam("q"),
		Scope: c.QueryParam("scope"),
	}
	if k, err := strconv.Atoi(c.QueryParam("k")); err == nil {
		req.K = k
	}
	if tags := c.QueryParam("tags"); tags != "" {
		req.Tags = strings.Split(tags, ",")
	}
	return req
}

type searchResponse struct {
	Results []memory.Hit `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	req := searchRequestFromQuery(c)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}

	hits, err := s.core.Search(c.Request().Context(), id.OrgID, id.AgentID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, searchResponse{Results: hits})
}

// handleSearchNDJSON streams hits one JSON document per line.
func (s *Server) handleSearchNDJSON(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	req := searchRequestFromQuery(c)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}

	hits, err := s.core.Search(c.Request().Context(), id.OrgID, id.AgentID, req)
	if err != nil {
		return httpError(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())
	for _, hit := range hits {
		if err := enc.Encode(hit); err != nil {
			return err
		}
		c.Response().Flush()
	}
	return nil
}

// handleSearchStream streams hits as server-sent events, one `result`
// event per hit followed by a terminal `done` event.
func (s *Server) handleSearchStream(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	req := searchRequestFromQuery(c)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}

	hits, err := s.core.Search(c.Request().Context(), id.OrgID, id.AgentID, req)
	if err != nil {
		return httpError(err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for _, hit := range hits {
		payload, err := json.Marshal(hit)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response(), "event: result\ndata: %s\n\n", payload); err != nil {
			return err
		}
		c.Response().Flush()
	}
	_, err = fmt.Fprint(c.Response(), "event: done\ndata: {}\n\n")
	c.Response().Flush()
	return err
}

type recordsResponse struct {
	Results []memory.Record `json:"results"`
}

func (s *Server) handleSearchText(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	includeDeleted, _ := strconv.ParseBool(c.QueryParam("include_deleted"))

	records, err := s.core.SearchText(c.Request().Context(), id.OrgID, id.AgentID, query, limit, includeDeleted)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recordsResponse{Results: records})
}

func (s *Server) handleList(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	includeDeleted, _ := strconv.ParseBool(c.QueryParam("include_deleted"))

	records, err := s.core.List(c.Request().Context(), id.OrgID, id.AgentID, limit, includeDeleted)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recordsResponse{Results: records})
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleOpen(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if len(req.IDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids required")
	}

	records, err := s.core.GetMany(c.Request().Context(), id.OrgID, id.AgentID, req.IDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recordsResponse{Results: records})
}

func (s *Server) handleUpdate(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var patch memory.UpdateRequest
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	record, err := s.core.Update(c.Request().Context(), id.OrgID, id.AgentID, c.Param("id"), patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleDelete(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	hard, _ := strconv.ParseBool(c.QueryParam("hard"))
	if err := s.core.Delete(c.Request().Context(), id.OrgID, id.AgentID, c.Param("id"), hard); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type deleteBatchRequest struct {
	IDs  []string `json:"ids"`
	Hard bool     `json:"hard"`
}

type deleteBatchResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleDeleteBatch(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var req deleteBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if len(req.IDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids required")
	}

	deleted, err := s.core.DeleteMany(c.Request().Context(), id.OrgID, id.AgentID, req.IDs, req.Hard)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, deleteBatchResponse{Deleted: deleted})
}
