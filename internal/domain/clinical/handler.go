package clinical

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/optimistic"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.Authorize(auth.ReadClinical))
	read.GET("/encounters/:id", h.GetEncounter)
	read.GET("/notes/:id", h.GetNote)
	read.GET("/notes/:id/versions", h.ListVersions)

	write := api.Group("", auth.Authorize(auth.ManageClinical))
	write.POST("/encounters", h.StartEncounter)
	write.POST("/encounters/:id/close", h.CloseEncounter)
	write.POST("/encounters/:id/notes", h.CreateNote)
	write.PUT("/notes/:id", h.UpdateNote)
	write.POST("/notes/:id/sign", h.SignNote)
	write.POST("/notes/:id/addenda", h.AddAddendum)
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

// -- Encounter Handlers --

type startEncounterRequest struct {
	BookingID uuid.UUID `json:"booking_id"`
}

func (h *Handler) StartEncounter(c echo.Context) error {
	var req startEncounterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BookingID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "booking_id is required")
	}
	e, err := h.svc.StartEncounter(c.Request().Context(), scope(c), req.BookingID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEncounter(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CloseEncounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.CloseEncounter(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

// -- Note Handlers --

func (h *Handler) CreateNote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in NoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.CreateNote(c.Request().Context(), scope(c), id, in)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, view.Version)
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.GetNote(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, view.Version)
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListVersions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	versions, err := h.svc.ListVersions(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

// UpdateNote honours an optional If-Match header; without one the draft is
// updated at whatever version it has.
func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	expected := 0
	if etag := c.Request().Header.Get("If-Match"); etag != "" {
		if expected, err = optimistic.ParseETag(etag); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	var in NoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.UpdateNote(c.Request().Context(), scope(c), id, expected, in)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, view.Version)
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) SignNote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.SignNote(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, view.Version)
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) AddAddendum(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var content NoteContent
	if err := c.Bind(&content); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.AddAddendum(c.Request().Context(), scope(c), id, content)
	if err != nil {
		return err
	}
	optimistic.SetETag(c, view.Version)
	return c.JSON(http.StatusCreated, view)
}
