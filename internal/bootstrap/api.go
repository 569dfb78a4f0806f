package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	apihttp "schedsync/adapter/in/http"
	"schedsync/config"
	"schedsync/infra/middleware"
	"schedsync/pkg/logger"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logger.Init("schedsync-api", cfg.LogLevel, cfg.Environment)

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.L().Error().Err(err).Msg("failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.Environment == "production",
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	// order matters
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// unauthenticated surface: health and provider webhook ingress
	apihttp.NewHealthHandler(deps.DB, deps.Redis).Register(app)
	if deps.Producer != nil {
		apihttp.NewWebhookHandler(deps.Producer, deps.Redis).Register(app)
	}

	api := app.Group("/api/v1", middleware.JWTAuth(cfg.JWTSecret))
	apihttp.NewAppointmentHandler(deps.AppointmentService).Register(api)
	apihttp.NewConnectionHandler(deps.ConnectionService).Register(api)
	apihttp.NewSettingsHandler(deps.SettingsRepo, deps.Redis).Register(api)

	return app, cleanup, nil
}
