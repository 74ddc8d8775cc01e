package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/fflags"
	"github.com/greenhouse-io/greenhouse/internal/handlers"
	"github.com/greenhouse-io/greenhouse/internal/legacy"
	"github.com/greenhouse-io/greenhouse/internal/liveness"
	"github.com/greenhouse-io/greenhouse/internal/mqttingress"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/greenhouse-io/greenhouse/internal/routers"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.18.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials"
	"gorm.io/gorm"

	"github.com/urfave/cli/v3"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("apiserver")
}

// @title               Greenhouse API
// @description         Device identity and liveness for greenhouse sensor nodes.
// @version             1.0
// @BasePath            /
func main() {
	// Override to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	app := &cli.Command{
		Name:  "apiserver",
		Usage: "Greenhouse device identity and liveness server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("GHAPI_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "db-host",
				Value:   "apiserver-db",
				Usage:   "Database host name",
				Sources: cli.EnvVars("GHAPI_DB_HOST"),
			},
			&cli.StringFlag{
				Name:    "db-port",
				Value:   "5432",
				Usage:   "Database port",
				Sources: cli.EnvVars("GHAPI_DB_PORT"),
			},
			&cli.StringFlag{
				Name:    "db-user",
				Value:   "apiserver",
				Usage:   "Database user",
				Sources: cli.EnvVars("GHAPI_DB_USER"),
			},
			&cli.StringFlag{
				Name:    "db-password",
				Value:   "secret",
				Usage:   "Database password",
				Sources: cli.EnvVars("GHAPI_DB_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "apiserver",
				Usage:   "Database name",
				Sources: cli.EnvVars("GHAPI_DB_NAME"),
			},
			&cli.StringFlag{
				Name:    "db-sslmode",
				Value:   "disable",
				Usage:   "Database ssl mode",
				Sources: cli.EnvVars("GHAPI_DB_SSLMODE"),
			},
			&cli.BoolFlag{
				Name:    "trace-insecure",
				Value:   false,
				Usage:   "Set OTLP endpoint to insecure mode",
				Sources: cli.EnvVars("GHAPI_TRACE_INSECURE"),
			},
			&cli.StringFlag{
				Name:    "trace-endpoint",
				Value:   "",
				Usage:   "OTLP endpoint for trace data",
				Sources: cli.EnvVars("GHAPI_TRACE_ENDPOINT_OTLP"),
			},
			&cli.DurationFlag{
				Name:    "offline-threshold",
				Value:   liveness.DefaultOfflineThreshold,
				Usage:   "How long a device may stay silent before it is marked offline",
				Sources: cli.EnvVars("GHAPI_OFFLINE_THRESHOLD"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			{
				Name:  "migrate-legacy",
				Usage: "Assign project-scoped identifiers to devices registered with bare UUIDs",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withCoordinator(ctx, command, func(logger *zap.Logger, coordinator *legacy.Coordinator) error {
						result, err := coordinator.Migrate(ctx)
						if err != nil {
							return err
						}
						logger.Info("legacy migration completed",
							zap.String("run_id", result.RunID.String()),
							zap.Int("projects", result.Projects),
							zap.Int("devices", result.Devices),
						)
						return nil
					})
				},
			},
			{
				Name:  "rollback-legacy",
				Usage: "Revert devices migrated by migrate-legacy to their bare UUID identifiers",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withCoordinator(ctx, command, func(logger *zap.Logger, coordinator *legacy.Coordinator) error {
						result, err := coordinator.Rollback(ctx)
						if err != nil {
							return err
						}
						logger.Info("legacy migration rolled back",
							zap.Int64("devices", result.Devices),
							zap.Int64("projects_deleted", result.ProjectsDeleted),
						)
						return nil
					})
				},
			},
			{
				Name:  "migration-report",
				Usage: "Print the legacy migration report as JSON",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withCoordinator(ctx, command, func(_ *zap.Logger, coordinator *legacy.Coordinator) error {
						report, err := coordinator.Report(ctx)
						if err != nil {
							return err
						}
						encoder := json.NewEncoder(os.Stdout)
						encoder.SetIndent("", "  ")
						return encoder.Encode(report)
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "Run one liveness sweep and exit",
				Action: func(ctx context.Context, command *cli.Command) error {
					var err error
					withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB) {
						threshold := command.Duration("offline-threshold")
						sweeper := liveness.NewSweeper(logger.Sugar(), db, threshold, threshold, nil)
						var demoted int64
						demoted, err = sweeper.Sweep(ctx, threshold)
						if err == nil {
							logger.Info("sweep completed", zap.Int64("demoted", demoted))
						}
					})
					return err
				},
			},
			{
				Name:  "rollback",
				Usage: "Rollback the last database migration",
				Action: func(ctx context.Context, command *cli.Command) error {
					withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB) {
						if err := database.Migrations().RollbackLast(ctx, db); err != nil {
							log.Fatal(err)
						}
					})
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   "0.0.0.0:8080",
				Usage:   "The address and port to listen for HTTP requests on",
				Sources: cli.EnvVars("GHAPI_LISTEN"),
			},
			&cli.StringFlag{
				Name:     "jwt-key",
				Usage:    "HMAC key used to verify operator bearer tokens",
				Required: true,
				Sources:  cli.EnvVars("GHAPI_JWT_KEY"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origins",
				Usage:   "Origins allowed to call the operator API from a browser",
				Sources: cli.EnvVars("GHAPI_CORS_ORIGINS"),
			},
			&cli.StringFlag{
				Name:    "redis-server",
				Usage:   "Redis host:port address, used to elect the replica running liveness sweeps",
				Value:   "",
				Sources: cli.EnvVars("GHAPI_REDIS_SERVER"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database to be selected after connecting to the server.",
				Value:   1,
				Sources: cli.EnvVars("GHAPI_REDIS_DB"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat-timeout",
				Value:   liveness.DefaultHeartbeatTimeout,
				Usage:   "Deadline for recording a single heartbeat",
				Sources: cli.EnvVars("GHAPI_HEARTBEAT_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "heartbeat-concurrency",
				Value:   64,
				Usage:   "Maximum number of heartbeats processed at the same time",
				Sources: cli.EnvVars("GHAPI_HEARTBEAT_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Value:   liveness.DefaultHeartbeatInterval,
				Usage:   "How often the liveness sweep runs",
				Sources: cli.EnvVars("GHAPI_SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "mqtt-broker",
				Usage:   "MQTT broker url, enables heartbeat ingress over MQTT when set",
				Sources: cli.EnvVars("GHAPI_MQTT_BROKER"),
			},
			&cli.StringFlag{
				Name:    "mqtt-client-id",
				Value:   "greenhouse-apiserver",
				Usage:   "MQTT client id",
				Sources: cli.EnvVars("GHAPI_MQTT_CLIENT_ID"),
			},
			&cli.StringFlag{
				Name:    "mqtt-username",
				Usage:   "MQTT user name",
				Sources: cli.EnvVars("GHAPI_MQTT_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "mqtt-password",
				Usage:   "MQTT password",
				Sources: cli.EnvVars("GHAPI_MQTT_PASSWORD"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
			ctx, span := tracer.Start(ctx, "Run")
			defer span.End()
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB) {
				pprof_init(ctx, command, logger)

				if err := database.Migrations().Migrate(ctx, db); err != nil {
					log.Fatal(err)
				}

				flags := fflags.NewFFlags(logger.Sugar())
				api, err := handlers.NewAPI(ctx, logger.Sugar(), db, flags, command.Duration("heartbeat-timeout"))
				if err != nil {
					log.Fatal(err)
				}

				router, err := routers.NewAPIRouter(ctx, routers.APIRouterOptions{
					Logger:               logger.Sugar(),
					Api:                  api,
					JWTKey:               []byte(command.String("jwt-key")),
					AllowedOrigins:       command.StringSlice("cors-origins"),
					HeartbeatConcurrency: int(command.Int("heartbeat-concurrency")),
				})
				if err != nil {
					log.Fatal(err)
				}

				wg := &sync.WaitGroup{}

				var lock liveness.Locker
				if addr := command.String("redis-server"); addr != "" {
					redisClient := redis.NewClient(&redis.Options{
						Addr: addr,
						DB:   int(command.Int("redis-db")),
					})
					defer util.IgnoreError(redisClient.Close)
					lock = liveness.NewRedisLock(redisClient)
				}
				sweeper := liveness.NewSweeper(logger.Sugar(), db,
					command.Duration("sweep-interval"), command.Duration("offline-threshold"), lock)
				util.GoWithWaitGroup(wg, func() {
					sweeper.Run(ctx)
				})

				if broker := command.String("mqtt-broker"); broker != "" {
					subscriber := mqttingress.NewSubscriber(logger.Sugar(), api.Heartbeats(), mqttingress.Options{
						Broker:   broker,
						ClientID: command.String("mqtt-client-id"),
						Username: command.String("mqtt-username"),
						Password: command.String("mqtt-password"),
					})
					if err := subscriber.Start(ctx); err != nil {
						log.Fatal(err)
					}
					defer subscriber.Stop()
				}

				httpServer := &http.Server{
					Addr:              command.String("listen"),
					Handler:           router,
					ReadTimeout:       5 * time.Second,
					ReadHeaderTimeout: 5 * time.Second,
					WriteTimeout:      10 * time.Second,
				}
				defer util.IgnoreError(httpServer.Close)

				serveErrors := make(chan error, 1)
				util.GoWithWaitGroup(wg, func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serveErrors <- err
					}
				})

				// Wait for a shutdown signal or a server error
				select {
				case err = <-serveErrors:
				case <-ctx.Done():
				}

				// Try to do a graceful shutdown for 5 seconds...
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)

				done := make(chan struct{})
				go func() {
					wg.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-shutdownCtx.Done():
					logger.Warn("shutdown timed out")
				}

				if err != nil {
					log.Fatal(err)
				}
			})
			return nil
		},
	}
}

func withCoordinator(ctx context.Context, command *cli.Command, f func(logger *zap.Logger, coordinator *legacy.Coordinator) error) error {
	var err error
	withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB) {
		if err = database.Migrations().Migrate(ctx, db); err != nil {
			return
		}
		transaction, dialect, terr := database.GetTransactionFunc(db)
		if terr != nil {
			err = terr
			return
		}
		coordinator := legacy.NewCoordinator(logger.Sugar(), db, transaction, dialect, registry.NewAllocator())
		err = f(logger, coordinator)
	})
	return err
}

func getLogger(command *cli.Command) *zap.Logger {
	var logger *zap.Logger
	var err error
	// set the log level
	if command.Bool("debug") {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = logConfig.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

func withLoggerAndDB(ctx context.Context, command *cli.Command, f func(logger *zap.Logger, db *gorm.DB)) {
	logger := getLogger(command)
	defer func() {
		_ = logger.Sync()
	}()
	cleanup := initTracer(logger.Sugar(), command.Bool("trace-insecure"), command.String("trace-endpoint"))
	defer func() {
		if cleanup == nil {
			return
		}
		if err := cleanup(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	db, err := database.NewDatabase(
		ctx,
		logger.Sugar(),
		command.String("db-host"),
		command.String("db-user"),
		command.String("db-password"),
		command.String("db-name"),
		command.String("db-port"),
		command.String("db-sslmode"),
	)
	if err != nil {
		log.Fatal(err)
	}

	f(logger, db)
}

func initTracer(logger *zap.SugaredLogger, insecure bool, collector string) func(context.Context) error {
	if collector == "" {
		logger.Info("No collector endpoint configured")
		otel.SetTracerProvider(
			sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.AlwaysSample()),
			),
		)
		return nil
	}
	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(collector),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create open telemetry exporter: %s", err.Error())
		return nil
	}

	deployEnvironment := os.Getenv("GHAPI_ENVIRONMENT")
	if deployEnvironment == "" {
		deployEnvironment = "development"
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("apiserver"),
				semconv.DeploymentEnvironment(deployEnvironment),
				attribute.String("library.language", "go"),
			)),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
		),
	)
	return exporter.Shutdown
}
