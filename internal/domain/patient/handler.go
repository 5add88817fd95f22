package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/optimistic"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.Authorize(auth.ReadProfiles))
	read.GET("/guardians", h.ListGuardians)
	read.GET("/guardians/:id", h.GetGuardian)
	read.GET("/guardians/:id/children", h.ListChildren)
	read.GET("/children/:id", h.GetChild)

	write := api.Group("", auth.Authorize(auth.ManageProfiles))
	write.POST("/guardians", h.CreateGuardian)
	write.PATCH("/guardians/:id", h.UpdateGuardian)
	write.POST("/children", h.CreateChild)
	write.PATCH("/children/:id", h.UpdateChild)
	write.POST("/children/:id/archive", h.ArchiveChild)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func scope(c echo.Context) auth.Scope {
	return auth.ScopeFromContext(c.Request().Context())
}

// -- Guardian Handlers --

func (h *Handler) CreateGuardian(c echo.Context) error {
	var g Guardian
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateGuardian(c.Request().Context(), scope(c), &g); err != nil {
		return err
	}
	optimistic.SetETag(c, g.Version)
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) GetGuardian(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGuardian(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, g.Version)
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListGuardians(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGuardians(c.Request().Context(), scope(c), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateGuardian(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch GuardianPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expected, err := optimistic.ExpectedVersion(c, patch.Version)
	if err != nil {
		return err
	}
	g, err := h.svc.UpdateGuardian(c.Request().Context(), scope(c), id, expected, patch)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, g.Version)
	return c.JSON(http.StatusOK, g)
}

// -- Child Handlers --

func (h *Handler) CreateChild(c echo.Context) error {
	var child Child
	if err := c.Bind(&child); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if child.GuardianID == uuid.Nil {
		if sc := scope(c); sc.GuardianID != nil {
			child.GuardianID = *sc.GuardianID
		} else {
			return echo.NewHTTPError(http.StatusBadRequest, "guardian_id is required")
		}
	}
	if err := h.svc.CreateChild(c.Request().Context(), scope(c), &child); err != nil {
		return err
	}
	optimistic.SetETag(c, child.Version)
	return c.JSON(http.StatusCreated, child)
}

func (h *Handler) GetChild(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	child, err := h.svc.GetChild(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, child.Version)
	return c.JSON(http.StatusOK, child)
}

func (h *Handler) ListChildren(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListChildren(c.Request().Context(), scope(c), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateChild(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch ChildPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expected, err := optimistic.ExpectedVersion(c, patch.Version)
	if err != nil {
		return err
	}
	child, err := h.svc.UpdateChild(c.Request().Context(), scope(c), id, expected, patch)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, child.Version)
	return c.JSON(http.StatusOK, child)
}

type archiveRequest struct {
	Version *int `json:"version"`
}

func (h *Handler) ArchiveChild(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req archiveRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	expected, err := optimistic.ExpectedVersion(c, req.Version)
	if err != nil {
		return err
	}
	child, err := h.svc.ArchiveChild(c.Request().Context(), scope(c), id, expected)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, child.Version)
	return c.JSON(http.StatusOK, child)
}
