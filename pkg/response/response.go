package response

import (
	"github.com/labstack/echo/v4"
)

// Fail writes the standard failure body.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, echo.Map{"success": false, "message": message})
}

// OK writes a success body merged with fields.
func OK(c echo.Context, status int, fields echo.Map) error {
	body := echo.Map{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}
