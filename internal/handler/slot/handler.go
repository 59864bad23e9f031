package slot

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/slot"
)

type Handler struct {
	service *slot.Service
}

func NewHandler(service *slot.Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the anonymous availability listing.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/doctors/:doctorId/slots", h.ListAvailable)
}

// RegisterDoctorRoutes mounts slot management for the calling doctor. The
// group must already require the DOCTOR role.
func (h *Handler) RegisterDoctorRoutes(r *gin.RouterGroup) {
	slots := r.Group("/slots")
	{
		slots.POST("", h.Create)
		slots.GET("", h.ListMine)
		slots.PATCH("/:slotId", h.Update)
		slots.DELETE("/:slotId", h.Delete)
	}
}

func (h *Handler) ListAvailable(c *gin.Context) {
	doctorID, ok := handler.ParamID(c, "doctorId")
	if !ok {
		return
	}

	slots, err := h.service.ListAvailable(c.Request.Context(), doctorID, c.Query("date"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, slots)
}

func (h *Handler) Create(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	var req model.CreateSlotRequest
	if !handler.Bind(c, &req) {
		return
	}

	slot, err := h.service.Create(c.Request.Context(), caller.ID, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, slot)
}

func (h *Handler) ListMine(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}

	slots, err := h.service.ListForDoctor(c.Request.Context(), caller.ID, c.Query("date"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, slots)
}

func (h *Handler) Update(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	slotID, ok := handler.ParamID(c, "slotId")
	if !ok {
		return
	}

	var req model.UpdateSlotRequest
	if !handler.Bind(c, &req) {
		return
	}

	slot, err := h.service.Update(c.Request.Context(), caller.ID, slotID, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, slot)
}

func (h *Handler) Delete(c *gin.Context) {
	caller, ok := handler.MustCaller(c)
	if !ok {
		return
	}
	slotID, ok := handler.ParamID(c, "slotId")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), caller.ID, slotID); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
