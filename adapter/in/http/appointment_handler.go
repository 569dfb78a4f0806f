package http

import (
	"github.com/gofiber/fiber/v2"

	"schedsync/core/domain"
	"schedsync/core/service/appointment"
	"schedsync/core/service/export"
	"schedsync/pkg/apperr"
)

type AppointmentHandler struct {
	appointments *appointment.Service
}

func NewAppointmentHandler(appointments *appointment.Service) *AppointmentHandler {
	return &AppointmentHandler{appointments: appointments}
}

func (h *AppointmentHandler) Register(app fiber.Router) {
	appts := app.Group("/appointments")
	appts.Post("/", h.Create)
	appts.Get("/", h.List)
	appts.Get("/:id", h.Get)
	appts.Put("/:id", h.Update)
	appts.Post("/:id/status", h.ChangeStatus)
	appts.Get("/:id/sync-status", h.SyncStatus)
	appts.Get("/:id/ics", h.ExportICS)
}

func (h *AppointmentHandler) Create(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var input appointment.CreateInput
	if err := c.BodyParser(&input); err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("body", "malformed json"))
	}

	appt, err := h.appointments.Create(c.UserContext(), tenantID, input, userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, appt)
}

func (h *AppointmentHandler) List(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	from, err := QueryTime(c, "from")
	if err != nil {
		return AppErrorResponse(c, err)
	}
	to, err := QueryTime(c, "to")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appts, err := h.appointments.List(c.UserContext(), tenantID, from, to)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"appointments": appts,
		"total":        len(appts),
	})
}

func (h *AppointmentHandler) Get(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appt, err := h.appointments.Get(c.UserContext(), tenantID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, appt)
}

func (h *AppointmentHandler) Update(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var patch appointment.UpdateInput
	if err := c.BodyParser(&patch); err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("body", "malformed json"))
	}

	appt, err := h.appointments.Update(c.UserContext(), tenantID, id, patch, userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, appt)
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *AppointmentHandler) ChangeStatus(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req changeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("body", "malformed json"))
	}

	appt, err := h.appointments.ChangeStatus(c.UserContext(), tenantID, id, domain.AppointmentStatus(req.Status), req.Reason, userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, appt)
}

func (h *AppointmentHandler) SyncStatus(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	mappings, err := h.appointments.SyncStatus(c.UserContext(), tenantID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"mappings": mappings})
}

func (h *AppointmentHandler) ExportICS(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appt, err := h.appointments.Get(c.UserContext(), tenantID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	data, err := export.ICS(appt)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="appointment-`+id.String()+`.ics"`)
	return c.Send(data)
}
