package api

import (
	"fmt"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	"meet-signal/internal"
	"meet-signal/turn"
	"net/http"

	"github.com/dgraph-io/badger/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type RoomExistsResponse struct {
	RoomExists bool `json:"roomExists"`
	Full       bool `json:"full"`
}

type TurnCredentialsResponse struct {
	Token *turn.Token `json:"token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatsProvider func() any

type Params struct {
	Log         *slog.Logger
	Coordinator contract.ICoordinator
	WebSocket   http.Handler
	Turn        *turn.Generator // nil when TURN is not configured
	Stats       StatsProvider
	DB          *badger.DB
	Debug       bool // exposes Stats and DB
}

type controller struct {
	log         *slog.Logger
	coordinator contract.ICoordinator
	turn        *turn.Generator
	stats       StatsProvider
	db          *badger.DB
}

func httpErrorHandler(e *echo.Echo, log *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		log.Error(err.Error(), slog.String("request", fmt.Sprintf("%s %s", c.Request().Method, c.Request().URL)))
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// NewServer builds the public router: websocket endpoint, room probe, TURN credentials, health.
func NewServer(params Params) *echo.Echo {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.HTTPErrorHandler = httpErrorHandler(router, params.Log)
	router.Use(middleware.Recover())
	router.Use(middleware.CORS())

	ctrl := &controller{
		log:         params.Log,
		coordinator: params.Coordinator,
		turn:        params.Turn,
		stats:       params.Stats,
		db:          params.DB,
	}

	router.GET("/health", ctrl.health)
	router.GET("/ws", echo.WrapHandler(params.WebSocket))
	router.GET("/api/room-exists/:roomId", ctrl.roomExists)
	router.GET("/api/get-turn-credentials", ctrl.turnCredentials)

	if params.Debug {
		router.GET("/debug/stats", ctrl.debugStats)
		router.GET("/debug/inspect", ctrl.debugInspect)
	}
	return router
}

func (ctrl *controller) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (ctrl *controller) roomExists(c echo.Context) error {
	roomID := domain.RoomID(c.Param("roomId"))
	exists, full, err := ctrl.coordinator.RoomStatus(c.Request().Context(), roomID)
	if err != nil {
		ctrl.log.Error("Room status failed", "room", roomID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, RoomExistsResponse{RoomExists: exists, Full: exists && full})
}

func (ctrl *controller) turnCredentials(c echo.Context) error {
	if ctrl.turn == nil {
		return c.JSON(http.StatusOK, TurnCredentialsResponse{})
	}
	token, err := ctrl.turn.GenerateRandom()
	if err != nil {
		ctrl.log.Error("TURN credentials failed", "error", err)
		return c.JSON(http.StatusOK, TurnCredentialsResponse{})
	}
	return c.JSON(http.StatusOK, TurnCredentialsResponse{Token: &token})
}

func (ctrl *controller) debugStats(c echo.Context) error {
	if ctrl.stats == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, ctrl.stats())
}

func (ctrl *controller) debugInspect(c echo.Context) error {
	if ctrl.db == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	prefix := c.QueryParam("prefix")
	if prefix == "" {
		prefix = "room:"
	}
	rows, err := internal.Inspect(ctrl.db, prefix, internal.DefaultMapper)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}
