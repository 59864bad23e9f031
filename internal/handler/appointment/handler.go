package appointment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", middleware.RequireRole(model.RolePatient), h.Book)
		appointments.GET("/me", h.ListMine)
		appointments.GET("/:id", h.Get)
		appointments.PATCH("/:id/cancel", h.Cancel)
		appointments.PATCH("/:id/reschedule", middleware.RequireRole(model.RolePatient), h.Reschedule)
	}
}

func (h *Handler) Book(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	var req model.BookAppointmentRequest
	if !handler.Bind(c, &req) {
		return
	}

	appt, err := h.service.Book(c.Request.Context(), caller, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, appt)
}

func (h *Handler) ListMine(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	list, err := h.service.ListMine(c.Request.Context(), caller, model.AppointmentStatus(c.Query("status")))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, list)
}

func (h *Handler) Get(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	appt, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, appt)
}

func (h *Handler) Cancel(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	// The reason is optional and so is the body.
	var req model.CancelAppointmentRequest
	if c.Request.ContentLength != 0 && !handler.Bind(c, &req) {
		return
	}

	appt, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, appt)
}

func (h *Handler) Reschedule(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	var req model.RescheduleAppointmentRequest
	if !handler.Bind(c, &req) {
		return
	}

	appt, err := h.service.Reschedule(c.Request.Context(), caller, id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, appt)
}
