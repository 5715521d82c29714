package middleware

import "github.com/labstack/echo/v4"

// Echo adapts the middleware to an echo server.
func (m *Middleware) Echo() echo.MiddlewareFunc {
	return echo.WrapMiddleware(m.Wrap)
}
