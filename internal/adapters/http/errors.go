package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status     int    `json:"status"`
	Code       string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message    string `json:"message"` // Human-readable message
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, rate_limited only
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(c),
	})
}

func requestID(c *fiber.Ctx) string {
	if id := RequestIDFromCtx(c.UserContext()); id != "" {
		return id
	}
	id, _ := c.Locals("requestid").(string)
	return id
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// errBadGateway returns a 502 error.
func errBadGateway(c *fiber.Ctx, code, msg string) error {
	return newError(c, fiber.StatusBadGateway, code, msg)
}

// errTooManyRequests relays upstream backpressure with standard headers.
func errTooManyRequests(c *fiber.Ctx, rl domain.RateLimitState, msg string) error {
	secs := int(rl.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	resetIn := max(int(time.Until(rl.ResetAt).Round(time.Second)/time.Second), 0)

	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
	c.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
	c.Set("RateLimit-Limit", strconv.Itoa(rl.Limit))
	c.Set("RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	c.Set("RateLimit-Reset", strconv.Itoa(resetIn))

	return c.Status(fiber.StatusTooManyRequests).JSON(APIError{
		Status:     fiber.StatusTooManyRequests,
		Code:       "rate_limited",
		Message:    msg,
		RequestID:  requestID(c),
		RetryAfter: secs,
	})
}

// errFromDomain maps a core error to its HTTP response.
func errFromDomain(c *fiber.Ctx, err error) error {
	var de *domain.Error
	msg := err.Error()
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return errBadRequest(c, msg)
	case domain.KindNotFound:
		return errNotFound(c, msg)
	case domain.KindRateLimited:
		if rl, ok := domain.RateLimitOf(err); ok {
			return errTooManyRequests(c, *rl, msg)
		}
		return errTooManyRequests(c, domain.RateLimitState{RetryAfter: time.Minute, ResetAt: time.Now().Add(time.Minute)}, msg)
	case domain.KindRefresh:
		return errBadGateway(c, "refresh_failed", err.Error())
	case domain.KindUpstream:
		LoggerFromCtx(c.UserContext()).Warn("upstream failure", "error", err)
		return errBadGateway(c, "upstream_error", "upstream service unavailable")
	default:
		LoggerFromCtx(c.UserContext()).Error("unhandled error", "error", err, "path", c.Path())
		return errInternal(c, "internal error")
	}
}
