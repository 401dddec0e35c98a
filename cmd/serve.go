package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	dtohttp "github.com/vibast-solutions/ms-go-apiaccess/app/dto/http"
	"github.com/vibast-solutions/ms-go-apiaccess/app/metrics"
	"github.com/vibast-solutions/ms-go-apiaccess/app/middleware"
	"github.com/vibast-solutions/ms-go-apiaccess/app/repository"
	"github.com/vibast-solutions/ms-go-apiaccess/app/service"
	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP server with the API-key gate, metrics endpoint, and scheduled audit log cleanup.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	apiKeyRepo := repository.NewAPIKeyRepository(db)
	apiLogRepo := repository.NewAPILogRepository(db)

	gateMetrics := metrics.New(prometheus.DefaultRegisterer)
	matcher := service.NewDomainMatcher(cfg.LocalhostDomains)
	accessService := service.NewAPIAccessService(apiKeyRepo, matcher, cfg)
	auditLogger := service.NewAuditLogger(apiLogRepo, cfg.Logging).WithMetrics(gateMetrics)
	retentionService := service.NewRetentionService(apiLogRepo, cfg)

	scheduler := startCleanupScheduler(cfg, retentionService)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	startHTTPServer(cfg, accessService, auditLogger, gateMetrics)
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func startHTTPServer(cfg *config.Config, accessService *service.APIAccessService, auditLogger *service.AuditLogger, gateMetrics *metrics.Metrics) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(accessService, auditLogger, gateMetrics)

	api := e.Group("/api")
	api.Use(apiKeyMiddleware.RequireAPIKey)
	api.GET("/ping", handlePing)
	api.GET("/whoami", handleWhoAmI)

	httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}

func handlePing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message":    "pong",
		"request_id": middleware.RequestIDFromContext(c),
	})
}

func handleWhoAmI(c echo.Context) error {
	record, ok := middleware.APIKeyFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "api key missing from context")
	}
	return c.JSON(http.StatusOK, dtohttp.NewAPIKeyInfoResponse(record, middleware.RequestIDFromContext(c)))
}

func startCleanupScheduler(cfg *config.Config, retentionService *service.RetentionService) *cron.Cron {
	if !cfg.Logging.CleanupEnabled || cfg.Logging.CleanupSchedule == "" {
		logrus.Info("Audit log cleanup scheduler disabled")
		return nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Logging.CleanupSchedule, func() {
		result, err := retentionService.Cleanup(context.Background(), cfg.Logging.RetentionDays, false)
		if err != nil {
			logrus.WithError(err).Error("Scheduled audit log cleanup failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"deleted":   result.Deleted,
			"remaining": result.Remaining,
		}).Info("Scheduled audit log cleanup finished")
	})
	if err != nil {
		logrus.WithError(err).Fatal("Invalid audit log cleanup schedule")
	}

	scheduler.Start()
	logrus.WithFields(logrus.Fields{
		"schedule":       cfg.Logging.CleanupSchedule,
		"retention_days": cfg.Logging.RetentionDays,
	}).Info("Audit log cleanup scheduler started")
	return scheduler
}
