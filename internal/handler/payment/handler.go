package payment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/payment"
)

type Handler struct {
	service *payment.Service
}

func NewHandler(service *payment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/init", middleware.RequireRole(model.RolePatient), h.Init)
		// Called back by the payment collaborator on success.
		payments.POST("/confirm", h.Confirm)
		payments.POST("/refund", middleware.RequireRole(model.RoleAdmin), h.Refund)
		payments.GET("/appointment/:appointmentId", h.GetForAppointment)
	}
}

func (h *Handler) Init(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	var req model.InitPaymentRequest
	if !handler.Bind(c, &req) {
		return
	}

	intent, err := h.service.Init(c.Request.Context(), caller, req.AppointmentID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, intent)
}

func (h *Handler) Confirm(c *gin.Context) {
	var req model.ConfirmPaymentRequest
	if !handler.Bind(c, &req) {
		return
	}

	p, err := h.service.Confirm(c.Request.Context(), req.TxnRef)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, p)
}

func (h *Handler) Refund(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	var req model.RefundPaymentRequest
	if !handler.Bind(c, &req) {
		return
	}

	p, err := h.service.Refund(c.Request.Context(), caller, req.AppointmentID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, p)
}

func (h *Handler) GetForAppointment(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "appointmentId")
	if !ok {
		return
	}

	p, err := h.service.GetForAppointment(c.Request.Context(), caller, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, p)
}
