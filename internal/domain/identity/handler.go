package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/middleware"
	"github.com/ehr/portal/pkg/pagination"
)

type Handler struct {
	svc         *Service
	authLimiter middleware.RateLimitConfig
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, authLimiter: middleware.DefaultAuthRateLimit()}
}

func (h *Handler) RegisterRoutes(api *echo.Group, requireAuth echo.MiddlewareFunc) {
	public := api.Group("/auth", middleware.RateLimit(h.authLimiter))
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)

	users := api.Group("/users", requireAuth)
	users.GET("/me", h.Me)
	users.PUT("/me", h.UpdateProfile)
	users.DELETE("/me", h.DeleteAccount)
	users.GET("/notifications", h.Notifications)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return apperr.InvalidArgument("Invalid request body.")
	}
	acct, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully!",
		"user": map[string]interface{}{
			"id":        acct.UserID,
			"username":  acct.Username,
			"patientId": acct.PatientID,
		},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidArgument("Invalid request body.")
	}
	token, _, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Login successful!",
		"token":   token,
	})
}

func (h *Handler) Me(c echo.Context) error {
	claims, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Me(c.Request().Context(), claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	claims, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var u ProfileUpdate
	if err := c.Bind(&u); err != nil {
		return apperr.InvalidArgument("Invalid request body.")
	}
	if err := h.svc.UpdateProfile(c.Request().Context(), claims.UserID, u); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Profile updated"})
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	claims, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAccount(c.Request().Context(), claims.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

func (h *Handler) Notifications(c echo.Context) error {
	claims, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	page := pagination.FromContext(c)
	list, err := h.svc.Notifications(c.Request().Context(), claims.UserID, page.Limit, page.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}
