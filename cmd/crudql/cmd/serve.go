package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/catalog"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/api"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/config"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/db"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/server"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage/redisstore"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage/sqlstore"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen host")
	serveCmd.Flags().Int("http-port", 0, "HTTP port")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	app := fx.New(serveOptions(cfg, log))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	log.Info("crudql started", zap.String("version", Version),
		zap.Int("http_port", cfg.Server.HTTPPort), zap.Int("grpc_port", cfg.Server.GRPCPort))

	sig := <-app.Wait()
	log.Info("shutting down", zap.Any("signal", sig.Signal), zap.Int("exit_code", sig.ExitCode))

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return err
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}

// serveOptions wires every server component.
func serveOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			newDatabase,
			newBackend,
			newRegistry,
			newEngine,
			newIdentifier,
			newMetrics,
			newHTTPServer,
			newGRPCServer,
		),
		fx.Invoke(registerHTTPHooks, registerGRPCHooks),
	)
}

// database is nil when neither the sql driver nor apikey auth needs one.
type database struct {
	DB *sqlx.DB
}

func newDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (database, error) {
	if cfg.Storage.Driver != config.DriverSQL && cfg.Auth.Mode != config.AuthAPIKey {
		return database{}, nil
	}
	conn, err := db.Open(cfg.Storage.DBURL)
	if err != nil {
		return database{}, err
	}
	if err := db.MigrateUp(conn); err != nil {
		conn.Close()
		return database{}, err
	}
	log.Info("database ready", zap.String("driver", conn.DriverName()))
	lc.Append(fx.StopHook(conn.Close))
	return database{DB: conn}, nil
}

// backend is the record store plus its readiness probe.
type backend struct {
	Store storage.Store
	Ready func(context.Context) error
}

func newBackend(lc fx.Lifecycle, cfg *config.Config, d database) (backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQL:
		return backend{Store: sqlstore.New(d.DB), Ready: d.DB.PingContext}, nil
	case config.DriverRedis:
		client := red.NewClient(&red.Options{Addr: cfg.Storage.RedisAddr})
		lc.Append(fx.StopHook(client.Close))
		return backend{
			Store: redisstore.New(client, cfg.Storage.RedisPrefix),
			Ready: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}, nil
	default:
		return backend{Store: storage.NewMemory()}, nil
	}
}

func newRegistry(cfg *config.Config, log *zap.Logger) (*registry.Store, error) {
	reg := registry.New(registry.WithLogger(log.Named("registry")))
	opts := catalog.Options{}
	if cfg.Engine.SuppressionValue != "" {
		opts.Suppression = cfg.Engine.SuppressionValue
	}
	if err := catalog.Register(reg, opts); err != nil {
		return nil, fmt.Errorf("failed to register catalog: %w", err)
	}
	return reg, nil
}

func newEngine(cfg *config.Config, reg *registry.Store, b backend, log *zap.Logger) *engine.Engine {
	return engine.New(reg, b.Store,
		engine.WithLogger(log.Named("engine")),
		engine.WithPagination(query.PaginationConfig{
			DefaultPageSize: cfg.Engine.DefaultPageSize,
			MaxPageSize:     cfg.Engine.MaxPageSize,
		}),
	)
}

func newIdentifier(cfg *config.Config, d database) (auth.Identifier, error) {
	if cfg.Auth.Mode != config.AuthAPIKey {
		return auth.HeaderIdentifier{}, nil
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}
	queries, err := db.LoadQueries(d.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return auth.NewAuthenticator(secrets, queries), nil
}

// metrics bundles the HTTP collectors with the registry that serves them.
type metrics struct {
	HTTP     *api.HTTPMetrics
	Gatherer prometheus.Gatherer
}

func newMetrics() (metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := api.NewHTTPMetrics(api.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		return metrics{}, err
	}
	return metrics{HTTP: m, Gatherer: reg}, nil
}

func newHTTPServer(cfg *config.Config, e *engine.Engine, id auth.Identifier, b backend, m metrics, log *zap.Logger) *http.Server {
	if cfg.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Options{
		Engine:         e,
		Identifier:     id,
		Logger:         log.Named("http"),
		Metrics:        m.HTTP,
		Gatherer:       m.Gatherer,
		Ready:          b.Ready,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})
	return &http.Server{
		Addr:              hostPort(cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newGRPCServer(cfg *config.Config, e *engine.Engine, id auth.Identifier, log *zap.Logger) (*server.GRPCServer, error) {
	svc, err := server.NewCrudService(e, log.Named("grpc"))
	if err != nil {
		return nil, err
	}
	return server.NewGRPCServer(server.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.GRPCPort,
		RequestTimeout: cfg.Server.RequestTimeout,
		Identifier:     id,
		Logger:         log.Named("grpc"),
	}, svc)
}

func registerHTTPHooks(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *http.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerGRPCHooks(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *server.GRPCServer, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				// Start outlives the hook context.
				if err := srv.Start(context.Background()); err != nil {
					log.Error("grpc server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

func hostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
