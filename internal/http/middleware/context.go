package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

func requestCtx(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
