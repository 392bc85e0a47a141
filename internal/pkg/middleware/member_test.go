package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

func TestMemberContextMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		memberID uint
		authed   bool
	}{
		{"no header", "", 0, false},
		{"valid id", "42", 42, true},
		{"padded id", " 7 ", 7, true},
		{"zero", "0", 0, false},
		{"negative", "-1", 0, false},
		{"garbage", "abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got usercontext.MemberContext
			app := fiber.New()
			app.Use(MemberContextMiddleware)
			app.Get("/", func(c *fiber.Ctx) error {
				got = usercontext.GetMemberContext(c)
				return c.SendStatus(fiber.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(usercontext.HeaderMemberID, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assert.Equal(t, tt.memberID, got.MemberID)
			assert.Equal(t, tt.authed, got.Authenticated)
		})
	}
}

func TestRequireMember(t *testing.T) {
	app := fiber.New()
	app.Use(MemberContextMiddleware)
	app.Get("/me", RequireMember, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": usercontext.GetMemberID(c)})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(usercontext.HeaderMemberID, "3")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
