package scheduling

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
	"github.com/clinic/clinic/pkg/timerange"
)

type Handler struct {
	svc    *Service
	ledger *Ledger
}

func NewHandler(svc *Service, ledger *Ledger) *Handler {
	return &Handler{svc: svc, ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.Authorize(auth.ReadSchedules))
	read.GET("/practitioners", h.ListPractitioners)
	read.GET("/practitioners/:id", h.GetPractitioner)
	read.GET("/practitioners/:id/availability", h.GetAvailability)

	manage := api.Group("", auth.Authorize(auth.ManageSchedules))
	manage.POST("/practitioners", h.CreatePractitioner)
	manage.PUT("/practitioners/:id", h.UpdatePractitioner)
	manage.PUT("/practitioners/:id/weekly-availability", h.ReplaceWeeklyAvailability)
	manage.POST("/practitioners/:id/exceptions", h.AddException)
	manage.DELETE("/practitioners/:id/exceptions/:exceptionId", h.DeleteException)
	manage.POST("/practitioners/:id/blocks", h.AddBlock)
	manage.DELETE("/practitioners/:id/blocks/:blockId", h.DeleteBlock)

	api.GET("/bookings", h.ListBookings, auth.Authorize(auth.ReadBookings))
	api.GET("/bookings/:id", h.GetBooking, auth.Authorize(auth.ReadBookings))
	api.POST("/bookings", h.Reserve, auth.Authorize(auth.CreateBookings))
	api.PUT("/bookings/:id/time", h.Reschedule, auth.AuthorizeAny(auth.ManageBookings, auth.CreateBookings))
	api.POST("/bookings/:id/cancel", h.Cancel, auth.AuthorizeAny(auth.ManageBookings, auth.CreateBookings))
	api.POST("/bookings/:id/confirm", h.Confirm, auth.Authorize(auth.ManageBookings))
	api.POST("/bookings/:id/complete", h.Complete, auth.Authorize(auth.ManageBookings))
	api.POST("/bookings/:id/no-show", h.NoShow, auth.Authorize(auth.ManageBookings))
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func scope(c echo.Context) auth.Scope {
	return auth.ScopeFromContext(c.Request().Context())
}

// -- Practitioner Handlers --

type practitionerRequest struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	BufferMinutes  int    `json:"buffer_minutes"`
	Timezone       string `json:"timezone"`
	Active         *bool  `json:"active"`
}

func (r practitionerRequest) apply(p *Practitioner) {
	p.Name = r.Name
	p.Specialization = r.Specialization
	p.BufferMinutes = r.BufferMinutes
	p.Timezone = r.Timezone
	p.Active = r.Active == nil || *r.Active
}

func (h *Handler) CreatePractitioner(c echo.Context) error {
	var req practitionerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var p Practitioner
	req.apply(&p)
	if err := h.svc.CreatePractitioner(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPractitioner(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePractitioner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req practitionerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := Practitioner{ID: id}
	req.apply(&p)
	if err := h.svc.UpdatePractitioner(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPractitioners(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPractitioners(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ReplaceWeeklyAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var rows []WeeklyAvailability
	if err := (&echo.DefaultBinder{}).BindBody(c, &rows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReplaceWeeklyAvailability(c.Request().Context(), id, rows); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) AddException(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var e DateException
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.PractitionerID = id
	if err := h.svc.AddException(c.Request().Context(), &e); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	exceptionID, err := parseID(c, "exceptionId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteException(c.Request().Context(), id, exceptionID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddBlock(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var b Block
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.PractitionerID = id
	if err := h.svc.AddBlock(c.Request().Context(), &b); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) DeleteBlock(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	blockID, err := parseID(c, "blockId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBlock(c.Request().Context(), id, blockID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.QueryParam(name))
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	start, err := parseTimeParam(c, "start")
	if err != nil {
		return err
	}
	end, err := parseTimeParam(c, "end")
	if err != nil {
		return err
	}
	r, err := timerange.New(start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be before end")
	}
	out, err := h.svc.Availability(c.Request().Context(), id, r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Booking Handlers --

func (h *Handler) Reserve(c echo.Context) error {
	var req ReserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.ledger.Reserve(c.Request().Context(), scope(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.ledger.Get(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	var f BookingFilter
	for _, q := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"practitioner_id", &f.PractitionerID},
		{"guardian_id", &f.GuardianID},
		{"child_id", &f.ChildID},
	} {
		if v := c.QueryParam(q.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+q.name)
			}
			*q.dst = &id
		}
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = &st
	}
	if c.QueryParam("from") != "" {
		t, err := parseTimeParam(c, "from")
		if err != nil {
			return err
		}
		f.From = &t
	}
	if c.QueryParam("to") != "" {
		t, err := parseTimeParam(c, "to")
		if err != nil {
			return err
		}
		f.To = &t
	}

	pg := pagination.FromContext(c)
	items, total, err := h.ledger.List(c.Request().Context(), scope(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type rescheduleRequest struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.ledger.Reschedule(c.Request().Context(), scope(c), id, req.StartAt, req.EndAt)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.ledger.Cancel(c.Request().Context(), scope(c), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.simpleTransition(c, h.ledger.Confirm)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.simpleTransition(c, h.ledger.Complete)
}

func (h *Handler) NoShow(c echo.Context) error {
	return h.simpleTransition(c, h.ledger.NoShow)
}

func (h *Handler) simpleTransition(c echo.Context, fn func(ctx context.Context, s auth.Scope, id uuid.UUID) (*Booking, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := fn(c.Request().Context(), scope(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}
