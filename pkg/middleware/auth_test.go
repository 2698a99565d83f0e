package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"expense-intake/pkg/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newApp(t *testing.T, m *auth.JWTManager) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(m, zaptest.NewLogger(t)), func(c *fiber.Ctx) error {
		id, ok := UserID(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(id.String())
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	m := auth.NewJWTManager("secret", time.Hour, time.Hour)
	app := newApp(t, m)
	userID := uuid.New()

	token, err := m.GenerateToken(userID.String(), "alice", "a@example.com")
	require.NoError(t, err)
	refresh, err := m.GenerateRefreshToken(userID.String())
	require.NoError(t, err)
	badID, err := m.GenerateToken("not-a-uuid", "", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: fiber.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: fiber.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + refresh, status: fiber.StatusUnauthorized},
		{name: "malformed user id", header: "Bearer " + badID, status: fiber.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, status: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
