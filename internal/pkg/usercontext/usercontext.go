package usercontext

import "github.com/gofiber/fiber/v2"

// MemberContext is the authenticated member of a request, as forwarded by
// the upstream auth layer.
type MemberContext struct {
	MemberID      uint `json:"member_id"`
	Authenticated bool `json:"authenticated"`
}

// GetMemberContext retrieves the member context from fiber context.
// Returns an anonymous context if none is set.
func GetMemberContext(c *fiber.Ctx) MemberContext {
	if mc, ok := c.Locals(KeyMemberContext).(MemberContext); ok {
		return mc
	}
	return MemberContext{}
}

func SetMemberContext(c *fiber.Ctx, mc MemberContext) {
	c.Locals(KeyMemberContext, mc)
}

// IsAuthenticated checks if the request carries a member
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetMemberContext(c).Authenticated
}

// GetMemberID returns the current member's ID, or 0 if anonymous
func GetMemberID(c *fiber.Ctx) uint {
	return GetMemberContext(c).MemberID
}
