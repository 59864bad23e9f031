package chat

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
	"github.com/jwalitptl/consult-api/internal/service/chat"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
)

type Handler struct {
	chat         *chat.Service
	appointments *appointment.Service
	hub          *consultation.Hub
}

func NewHandler(chatSvc *chat.Service, appointments *appointment.Service, hub *consultation.Hub) *Handler {
	return &Handler{chat: chatSvc, appointments: appointments, hub: hub}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	room := r.Group("/chat/:appointmentId")
	{
		room.GET("/messages", h.History)
		room.POST("/end", middleware.RequireRole(model.RoleDoctor), h.End)
	}
}

func (h *Handler) History(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "appointmentId")
	if !ok {
		return
	}

	msgs, err := h.chat.History(c.Request.Context(), caller, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, msgs)
}

// End completes the consultation and tells the room.
func (h *Handler) End(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "appointmentId")
	if !ok {
		return
	}

	appt, err := h.appointments.EndConsultation(c.Request.Context(), caller, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	h.hub.CloseRoom(id)
	handler.OK(c, appt)
}
