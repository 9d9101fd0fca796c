package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sirpyerre/duochat/internal/api/middleware"
	"github.com/sirpyerre/duochat/internal/core/domain"
)

// identity returns the caller resolved by the Auth middleware. A missing
// identity means the route was mounted without it; treat as unauthenticated.
func identity(c echo.Context) (domain.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError("%s must be a positive integer", name)
	}
	return id, nil
}
