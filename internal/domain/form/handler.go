package form

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
	g := api.Group("/forms", auth.RequireRole("admin", "staff"))
	g.GET("", h.ListForms)
	g.POST("", h.CreateForm)
	g.GET("/:id", h.GetForm)
	g.PUT("/:id", h.UpdateForm)
	g.DELETE("/:id", h.DeleteForm)
	g.POST("/:id/regenerate-token", h.RegenerateToken)

	g.GET("/:id/components", h.ListComponents)
	g.POST("/:id/components", h.CreateComponent)
	g.GET("/:id/components/:componentId", h.GetComponent)
	g.PUT("/:id/components/:componentId", h.UpdateComponent)
	g.DELETE("/:id/components/:componentId", h.DeleteComponent)

	g.GET("/:id/components/:componentId/options", h.ListOptions)
	g.PUT("/:id/components/:componentId/options", h.ReplaceOptions)
}

func (h *Handler) ListForms(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListForms(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) CreateForm(c echo.Context) error {
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateForm(c.Request().Context(), &f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	f, err := h.svc.GetForm(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "form not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) UpdateForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.ID = id
	if err := h.svc.UpdateForm(c.Request().Context(), &f); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "form not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DeleteForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	if err := h.svc.DeleteForm(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrFormHasSubmissions) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return notFoundOr500(err, "form not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RegenerateToken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	f, err := h.svc.RegenerateToken(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "form not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListComponents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	items, err := h.svc.ListComponents(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateComponent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	var comp Component
	if err := c.Bind(&comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	comp.FormID = id
	if err := h.svc.CreateComponent(c.Request().Context(), &comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, comp)
}

func (h *Handler) GetComponent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("componentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid component id")
	}
	comp, err := h.svc.GetComponent(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "component not found")
	}
	return c.JSON(http.StatusOK, comp)
}

func (h *Handler) UpdateComponent(c echo.Context) error {
	formID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	id, err := uuid.Parse(c.Param("componentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid component id")
	}
	var comp Component
	if err := c.Bind(&comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	comp.ID = id
	comp.FormID = formID
	if err := h.svc.UpdateComponent(c.Request().Context(), &comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, comp)
}

func (h *Handler) DeleteComponent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("componentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid component id")
	}
	if err := h.svc.DeleteComponent(c.Request().Context(), id); err != nil {
		return notFoundOr500(err, "component not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListOptions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("componentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid component id")
	}
	items, err := h.svc.ListOptions(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

type replaceOptionsRequest struct {
	Options []*Option `json:"options"`
	// Text replaces Options when set: one entry per delimited value.
	Text        string `json:"text,omitempty"`
	DefaultName string `json:"default_name,omitempty"`
}

func (h *Handler) ReplaceOptions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("componentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid component id")
	}
	var req replaceOptionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.Text != "" {
		err = h.svc.ReplaceOptionsFromText(ctx, id, req.Text, req.DefaultName)
	} else {
		err = h.svc.ReplaceOptions(ctx, id, req.Options)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.ListOptions(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func notFoundOr500(err error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
