package branch

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public branch list.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/branches", h.List)
}

func (h *Handler) List(c echo.Context) error {
	branches, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, branches)
}
