package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

// MemberContextMiddleware reads the member id forwarded by the gateway in
// front of this service and stores it for the handlers. Malformed ids are
// treated as anonymous.
func MemberContextMiddleware(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Get(usercontext.HeaderMemberID))
	if raw == "" {
		usercontext.SetMemberContext(c, usercontext.MemberContext{})
		return c.Next()
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		usercontext.SetMemberContext(c, usercontext.MemberContext{})
		return c.Next()
	}
	usercontext.SetMemberContext(c, usercontext.MemberContext{MemberID: uint(id), Authenticated: true})
	return c.Next()
}

// RequireMember rejects anonymous requests.
func RequireMember(c *fiber.Ctx) error {
	if !usercontext.IsAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing member"})
	}
	return c.Next()
}
