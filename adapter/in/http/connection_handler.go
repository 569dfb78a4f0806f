package http

import (
	"github.com/gofiber/fiber/v2"

	"schedsync/core/domain"
	"schedsync/core/service/connection"
	"schedsync/pkg/apperr"
)

type ConnectionHandler struct {
	connections *connection.Service
}

func NewConnectionHandler(connections *connection.Service) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

func (h *ConnectionHandler) Register(app fiber.Router) {
	conns := app.Group("/connections")
	conns.Get("/", h.List)
	conns.Get("/:provider/auth-url", h.AuthURL)
	conns.Post("/:provider/callback", h.Callback)
	conns.Delete("/:provider", h.Disconnect)
}

func parseProviderParam(c *fiber.Ctx) (domain.ProviderType, error) {
	provider, ok := domain.ParseProvider(c.Params("provider"))
	if !ok {
		return "", apperr.InvalidInput("provider", "unknown provider")
	}
	return provider, nil
}

func (h *ConnectionHandler) List(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	infos, err := h.connections.List(c.UserContext(), tenantID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"connections": infos})
}

func (h *ConnectionHandler) AuthURL(c *fiber.Ctx) error {
	if _, err := GetTenantID(c); err != nil {
		return AppErrorResponse(c, err)
	}
	provider, err := parseProviderParam(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	state := c.Query("state")
	if state == "" {
		return AppErrorResponse(c, apperr.InvalidInput("state", "required"))
	}

	url, err := h.connections.AuthURL(provider, state)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"auth_url": url})
}

type callbackRequest struct {
	Code string `json:"code"`
}

// Callback finishes the OAuth flow. The frontend receives the redirect
// and posts the authorization code here.
func (h *ConnectionHandler) Callback(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	provider, err := parseProviderParam(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req callbackRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return AppErrorResponse(c, apperr.InvalidInput("code", "required"))
	}

	info, err := h.connections.HandleCallback(c.UserContext(), tenantID, provider, req.Code)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, info)
}

func (h *ConnectionHandler) Disconnect(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	provider, err := parseProviderParam(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.connections.Disconnect(c.UserContext(), tenantID, provider); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"disconnected": true})
}
