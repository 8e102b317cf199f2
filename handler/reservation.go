package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"seat-reservation/model"
	"seat-reservation/service"
)

type ReservationService interface {
	Admit(ctx context.Context, userID string, seatID uint64) (*service.AdmissionResult, error)
	Confirm(ctx context.Context, reservationID string) (*model.Reservation, error)
	Cancel(ctx context.Context, reservationID string) (*model.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*model.Reservation, error)
	SeatStatus(ctx context.Context, seatID uint64) (model.SeatStatus, error)
}

type ReservationHandler struct {
	Service ReservationService
	Logger  *logrus.Logger
}

func NewReservationHandler(s ReservationService, logger *logrus.Logger) *ReservationHandler {
	return &ReservationHandler{
		Service: s,
		Logger:  logger,
	}
}

func (h *ReservationHandler) Register(e *echo.Echo) {
	e.POST("/seats/:seatId/reservations", h.Admit)
	e.GET("/seats/:seatId/status", h.SeatStatus)
	e.GET("/reservations/:id", h.Get)
	e.POST("/reservations/:id/confirm", h.Confirm)
	e.POST("/reservations/:id/cancel", h.Cancel)
}

type admitRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// Admit handles POST /seats/:seatId/reservations.
// 202 means the claim is queued (PENDING), 409 that someone else got there first.
func (h *ReservationHandler) Admit(c echo.Context) error {
	seatID, err := parseSeatID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}

	var req admitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	res, err := h.Service.Admit(c.Request().Context(), req.UserID, seatID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

func (h *ReservationHandler) SeatStatus(c echo.Context) error {
	seatID, err := parseSeatID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	status, err := h.Service.SeatStatus(c.Request().Context(), seatID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seat_id": seatID, "status": status})
}

func (h *ReservationHandler) Get(c echo.Context) error {
	r, err := h.Service.GetReservation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) Confirm(c echo.Context) error {
	r, err := h.Service.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) Cancel(c echo.Context) error {
	r, err := h.Service.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) fail(c echo.Context, err error) error {
	var rejected *service.RejectedError
	switch {
	case errors.As(err, &rejected):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat unavailable", "reason": rejected.Reason})
	case errors.Is(err, service.ErrContention):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat unavailable", "reason": "version conflict"})
	case errors.Is(err, service.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation is not pending"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}

	h.Logger.WithContext(c.Request().Context()).WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func parseSeatID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("seatId"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid seat id")
	}
	return id, nil
}
