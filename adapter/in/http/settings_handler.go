package http

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/core/service/timeutil"
	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

const (
	settingsCacheTTL = 5 * time.Minute
	settingsCacheKey = "settings:%s"
)

// SettingsHandler serves tenant calendar settings with a redis
// read-through cache.
type SettingsHandler struct {
	settings out.SettingsRepository
	redis    *redis.Client
}

func NewSettingsHandler(settings out.SettingsRepository, redisClient *redis.Client) *SettingsHandler {
	return &SettingsHandler{settings: settings, redis: redisClient}
}

func (h *SettingsHandler) Register(app fiber.Router) {
	settings := app.Group("/settings")
	settings.Get("/", h.GetSettings)
	settings.Put("/", h.UpdateSettings)
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if cached := h.fromCache(c.UserContext(), tenantID); cached != nil {
		return SuccessResponse(c, cached)
	}

	settings, err := h.settings.GetOrCreate(c.UserContext(), tenantID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	h.toCache(c.UserContext(), settings)
	return SuccessResponse(c, settings)
}

type updateSettingsRequest struct {
	DefaultTimezone    *string `json:"default_timezone,omitempty"`
	PreventOverbooking *bool   `json:"prevent_overbooking,omitempty"`
	DefaultCalendarID  *string `json:"default_calendar_id,omitempty"`
}

func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("body", "malformed json"))
	}

	settings, err := h.settings.GetOrCreate(c.UserContext(), tenantID)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if req.DefaultTimezone != nil {
		if !timeutil.ValidateTimezone(*req.DefaultTimezone) {
			return AppErrorResponse(c, apperr.InvalidInput("default_timezone", "unknown IANA zone"))
		}
		settings.DefaultTimezone = *req.DefaultTimezone
	}
	if req.PreventOverbooking != nil {
		settings.PreventOverbooking = *req.PreventOverbooking
	}
	if req.DefaultCalendarID != nil {
		if *req.DefaultCalendarID == "" {
			settings.DefaultCalendarID = nil
		} else {
			settings.DefaultCalendarID = req.DefaultCalendarID
		}
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := h.settings.Update(c.UserContext(), settings); err != nil {
		return AppErrorResponse(c, err)
	}

	h.invalidate(c.UserContext(), tenantID)
	return SuccessResponse(c, settings)
}

func (h *SettingsHandler) fromCache(ctx context.Context, tenantID uuid.UUID) *domain.TenantSettings {
	if h.redis == nil {
		return nil
	}
	data, err := h.redis.Get(ctx, fmt.Sprintf(settingsCacheKey, tenantID)).Bytes()
	if err != nil {
		return nil
	}
	var settings domain.TenantSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil
	}
	return &settings
}

func (h *SettingsHandler) toCache(ctx context.Context, settings *domain.TenantSettings) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	key := fmt.Sprintf(settingsCacheKey, settings.TenantID)
	if err := h.redis.Set(ctx, key, data, settingsCacheTTL).Err(); err != nil {
		logger.L().Debug().Err(err).Msg("settings cache write failed")
	}
}

func (h *SettingsHandler) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Del(ctx, fmt.Sprintf(settingsCacheKey, tenantID)).Err(); err != nil {
		logger.L().Debug().Err(err).Msg("settings cache invalidation failed")
	}
}
