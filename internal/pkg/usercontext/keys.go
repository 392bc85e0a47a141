package usercontext

// Shared Locals keys and headers used across controllers and middlewares
const (
	KeyMemberContext = "MEMBER_CONTEXT"
	HeaderMemberID   = "X-Member-Id"
)
