package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/idempotency"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

// IdempotencyMiddleware rejects a repeated submission carrying the same
// Idempotency-Key for the same member. Requests without the header are
// guarded by a fingerprint of method, path and body for a short window.
// The key is released again when the request errored on our side so the
// client may retry it; a fingerprint is also released on any 4xx.
func IdempotencyMiddleware(guard *idempotency.Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if guard == nil {
			return c.Next()
		}
		scope := strconv.FormatUint(uint64(usercontext.GetMemberID(c)), 10)

		key := strings.TrimSpace(c.Get(idempotency.HeaderKey))
		implicit := key == ""
		var err error
		if implicit {
			key = requestFingerprint(c)
			err = guard.AcquireImplicit(c.UserContext(), scope, key)
		} else {
			err = guard.Acquire(c.UserContext(), scope, key)
		}
		if errors.Is(err, idempotency.ErrDuplicateSubmission) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "duplicate_submission", "message": "This payment request was already submitted"})
		}
		if errors.Is(err, idempotency.ErrInvalidKey) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
		}
		if err != nil {
			log.Warnf("[Idempotency] guard unavailable, continuing without it: %v", err)
			return c.Next()
		}

		nextErr := c.Next()
		status := c.Response().StatusCode()
		release := nextErr != nil || status >= fiber.StatusInternalServerError
		if implicit && status >= fiber.StatusBadRequest {
			release = true
		}
		if release {
			if rerr := guard.Release(c.UserContext(), scope, key); rerr != nil {
				log.Warnf("[Idempotency] release %s failed: %v", key, rerr)
			}
		}
		return nextErr
	}
}

func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte(" "))
	h.Write([]byte(c.Path()))
	h.Write([]byte("\n"))
	h.Write(c.Body())
	return "auto:" + hex.EncodeToString(h.Sum(nil))
}
