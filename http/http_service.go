package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Catrya/mostro/admin"
	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/relay"
)

type authRequest struct {
	Password string `json:"password"`
}

type authTokenResponse struct {
	Token string `json:"token"`
}

type jwtCustomClaims struct {
	jwt.RegisteredClaims
}

type errorResponse struct {
	Message string `json:"message"`
}

// HttpService is the localhost operator surface: health, metrics and the
// privileged order and dispute operations behind a JWT.
type HttpService struct {
	cfg      *config.Config
	adminSvc *admin.Service
	relaySvc *relay.Service
}

func NewHttpService(cfg *config.Config, adminSvc *admin.Service, relaySvc *relay.Service) *HttpService {
	return &HttpService{
		cfg:      cfg,
		adminSvc: adminSvc,
		relaySvc: relaySvc,
	}
}

func (httpSvc *HttpService) RegisterRoutes(e *echo.Echo) {
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			logger.Logger.Info().
				Str("uri", values.URI).
				Int("status", values.Status).
				Str("remote_ip", values.RemoteIP).
				Str("request_id", values.RequestID).
				Msg("handled API request")
			return nil
		},
	}))

	e.GET("/api/health", httpSvc.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if httpSvc.cfg.Env.JWTSecret == "" || httpSvc.cfg.Env.AdminPassword == "" {
		logger.Logger.Warn().Msg("Admin HTTP operations disabled, no JWT secret or admin password configured")
		return
	}

	// allow one auth attempt per second
	authRateLimiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(1))
	e.POST("/api/auth", httpSvc.authHandler, authRateLimiter)

	restricted := e.Group("/api/admin")
	restricted.Use(echojwt.WithConfig(echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwtCustomClaims)
		},
		SigningKey: []byte(httpSvc.cfg.Env.JWTSecret),
	}))

	restricted.GET("/disputes", httpSvc.listDisputesHandler)
	restricted.POST("/orders/:id/cancel", httpSvc.cancelOrderHandler)
	restricted.POST("/orders/:id/settle", httpSvc.settleOrderHandler)
	restricted.POST("/solvers", httpSvc.addSolverHandler)
}

func (httpSvc *HttpService) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"relays": httpSvc.relaySvc.RelayStatuses(),
	})
}

func (httpSvc *HttpService) authHandler(c echo.Context) error {
	var req authRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(httpSvc.cfg.Env.AdminPassword)) != 1 {
		return c.JSON(http.StatusUnauthorized, errorResponse{Message: "wrong password"})
	}

	claims := &jwtCustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(httpSvc.cfg.Env.JWTSecret))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "failed to sign token"})
	}
	return c.JSON(http.StatusOK, authTokenResponse{Token: signed})
}

func (httpSvc *HttpService) listDisputesHandler(c echo.Context) error {
	disputes, err := httpSvc.adminSvc.OpenDisputes()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, disputes)
}

func (httpSvc *HttpService) cancelOrderHandler(c echo.Context) error {
	if err := httpSvc.adminSvc.OperatorCancelOrder(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (httpSvc *HttpService) settleOrderHandler(c echo.Context) error {
	if err := httpSvc.adminSvc.OperatorSettleOrder(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

type addSolverRequest struct {
	Pubkey string `json:"pubkey"`
}

func (httpSvc *HttpService) addSolverHandler(c echo.Context) error {
	var req addSolverRequest
	if err := c.Bind(&req); err != nil || req.Pubkey == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request"})
	}
	if err := httpSvc.adminSvc.OperatorAddSolver(c.Request().Context(), req.Pubkey); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
