package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Health reports 503 when any dependency fails its ping.
func Health(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusOK
		report := echo.Map{}
		for name, p := range deps {
			if err := p.Ping(c.Request().Context()); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		return c.JSON(status, report)
	}
}
