package lis

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mform/mform/internal/platform/auth"
	"github.com/mform/mform/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/lis", auth.RequireRole("admin"))

	g.GET("/endpoints", h.ListEndpoints)
	g.POST("/endpoints", h.CreateEndpoint)
	g.GET("/endpoints/:id", h.GetEndpoint)
	g.PUT("/endpoints/:id", h.UpdateEndpoint)
	g.DELETE("/endpoints/:id", h.DeleteEndpoint)
	g.POST("/endpoints/:id/sync", h.SyncMetadata)
	g.GET("/endpoints/:id/meta", h.ListMeta)

	g.GET("/mappings", h.ListMappings)
	g.POST("/mappings", h.CreateMapping)
	g.GET("/mappings/:id", h.GetMapping)
	g.PUT("/mappings/:id", h.UpdateMapping)
	g.DELETE("/mappings/:id", h.DeleteMapping)

	g.POST("/push", h.PushSubmissions)
}

func (h *Handler) ListEndpoints(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListEndpoints(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) CreateEndpoint(c echo.Context) error {
	var e Endpoint
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateEndpoint(c.Request().Context(), &e); err != nil {
		return badRequestOr500(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEndpoint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	e, err := h.svc.GetEndpoint(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "endpoint not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEndpoint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	var e Endpoint
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.ID = id
	if err := h.svc.UpdateEndpoint(c.Request().Context(), &e); err != nil {
		return badRequestOr500(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEndpoint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	if err := h.svc.DeleteEndpoint(c.Request().Context(), id); err != nil {
		return notFoundOr500(err, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// SyncMetadata refreshes the endpoint catalog. The endpoint is returned
// with its recorded sync outcome even when the lab system failed.
func (h *Handler) SyncMetadata(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	e, err := h.svc.SyncMetadata(c.Request().Context(), id)
	if err != nil && e == nil {
		return notFoundOr500(err, "endpoint not found")
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	return c.JSON(status, e)
}

func (h *Handler) ListMeta(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	items, err := h.svc.ListMeta(c.Request().Context(), id, c.QueryParam("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListMappings(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListMappings(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) CreateMapping(c echo.Context) error {
	var m Mapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateMapping(c.Request().Context(), &m); err != nil {
		return badRequestOr500(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	m, err := h.svc.GetMapping(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "mapping not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	var m Mapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = id
	if err := h.svc.UpdateMapping(c.Request().Context(), &m); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "mapping not found")
		}
		return badRequestOr500(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	if err := h.svc.DeleteMapping(c.Request().Context(), id); err != nil {
		return notFoundOr500(err, "mapping not found")
	}
	return c.NoContent(http.StatusNoContent)
}

type pushRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type pushResponse struct {
	*PushReport
	Message string `json:"message"`
}

func (h *Handler) PushSubmissions(c echo.Context) error {
	var req pushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.IDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids is required")
	}
	report, err := h.svc.PushSubmissions(c.Request().Context(), req.IDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pushResponse{PushReport: report, Message: report.Summary()})
}

func badRequestOr500(err error) error {
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return echo.NewHTTPError(http.StatusBadRequest, cfg.Message)
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func notFoundOr500(err error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
