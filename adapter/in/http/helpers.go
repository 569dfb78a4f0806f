package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

// GetTenantID extracts the authenticated tenant from the fiber context.
func GetTenantID(c *fiber.Ctx) (uuid.UUID, error) {
	val := c.Locals("tenant_id")
	if val == nil {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	tenantID, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	return tenantID, nil
}

// GetUserID extracts the authenticated user from the fiber context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	val := c.Locals("user_id")
	if val == nil {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	return userID, nil
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// APIError is the standard error shape.
type APIError struct {
	Code    apperr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

// SuccessResponse sends a standardized JSON success response.
func SuccessResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CreatedResponse sends a 201 with the standard envelope.
func CreatedResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse maps any error to the standard envelope. Non-AppErrors
// are logged and collapsed to a generic 500 so internals do not leak.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	requestID, _ := c.Locals("request_id").(string)

	appErr, ok := apperr.AsAppError(err)
	if !ok {
		logger.WithContext(c.UserContext()).Error().Err(err).
			Str("path", c.Path()).
			Msg("unhandled error")
		appErr = apperr.Internal("", err)
	}

	return c.Status(appErr.HTTPStatus()).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ParamUUID parses a uuid path parameter.
func ParamUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput(name, "must be a uuid")
	}
	return id, nil
}

// QueryTime parses an optional RFC3339 query parameter.
func QueryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	val := c.Query(key)
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, apperr.InvalidInput(key, "must be RFC3339")
	}
	utc := t.UTC()
	return &utc, nil
}
