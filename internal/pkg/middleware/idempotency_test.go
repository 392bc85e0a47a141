package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/cache/cachetest"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/idempotency"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

const middlewareTestRedisDB = 11

func post(t *testing.T, app *fiber.App, member, key string) int {
	t.Helper()
	return postBody(t, app, member, key, "")
}

func postBody(t *testing.T, app *fiber.App, member, key, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(body))
	req.Header.Set(usercontext.HeaderMemberID, member)
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestIdempotencyMiddlewareWithoutGuard(t *testing.T) {
	app := fiber.New()
	app.Use(MemberContextMiddleware)
	app.Post("/pay", IdempotencyMiddleware(nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	assert.Equal(t, http.StatusCreated, post(t, app, "1", "k"))
	assert.Equal(t, http.StatusCreated, post(t, app, "1", "k"))
}

func TestIdempotencyMiddleware(t *testing.T) {
	guard := idempotency.NewGuard(cachetest.NewClient(t, middlewareTestRedisDB), time.Minute)

	status := fiber.StatusCreated
	app := fiber.New()
	app.Use(MemberContextMiddleware)
	app.Post("/pay", IdempotencyMiddleware(guard), func(c *fiber.Ctx) error { return c.SendStatus(status) })

	assert.Equal(t, http.StatusCreated, post(t, app, "1", "key-1"))
	assert.Equal(t, http.StatusConflict, post(t, app, "1", "key-1"))
	assert.Equal(t, http.StatusCreated, post(t, app, "2", "key-1"), "keys are scoped per member")
	assert.Equal(t, http.StatusBadRequest, post(t, app, "1", strings.Repeat("k", 200)))

	status = fiber.StatusServiceUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, post(t, app, "1", "key-2"))
	status = fiber.StatusCreated
	assert.Equal(t, http.StatusCreated, post(t, app, "1", "key-2"), "server errors release the key")
}

func TestIdempotencyMiddlewareWithoutHeader(t *testing.T) {
	guard := idempotency.NewGuard(cachetest.NewClient(t, middlewareTestRedisDB), time.Minute)

	status := fiber.StatusOK
	app := fiber.New()
	app.Use(MemberContextMiddleware)
	app.Post("/pay", IdempotencyMiddleware(guard), func(c *fiber.Ctx) error { return c.SendStatus(status) })

	body := `{"tier":"STANDARD","period":"MONTHLY"}`
	assert.Equal(t, http.StatusOK, postBody(t, app, "1", "", body))
	assert.Equal(t, http.StatusConflict, postBody(t, app, "1", "", body), "identical submission is rejected")
	assert.Equal(t, http.StatusOK, postBody(t, app, "1", "", `{"tier":"PREMIUM","period":"MONTHLY"}`))
	assert.Equal(t, http.StatusOK, postBody(t, app, "2", "", body), "fingerprints are scoped per member")

	status = fiber.StatusPaymentRequired
	other := `{"tier":"STANDARD","period":"YEAR"}`
	assert.Equal(t, http.StatusPaymentRequired, postBody(t, app, "1", "", other))
	status = fiber.StatusOK
	assert.Equal(t, http.StatusOK, postBody(t, app, "1", "", other), "rejected submissions may be retried")
}

func TestIdempotencyMiddlewareImplicitWindowExpires(t *testing.T) {
	guard := idempotency.NewGuard(cachetest.NewClient(t, middlewareTestRedisDB), time.Minute).
		WithImplicitTTL(100 * time.Millisecond)

	app := fiber.New()
	app.Use(MemberContextMiddleware)
	app.Post("/pay", IdempotencyMiddleware(guard), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	assert.Equal(t, http.StatusOK, postBody(t, app, "1", "", "{}"))
	assert.Equal(t, http.StatusConflict, postBody(t, app, "1", "", "{}"))
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, http.StatusOK, postBody(t, app, "1", "", "{}"))
}
