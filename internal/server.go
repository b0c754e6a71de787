package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/auth"
	"github.com/2beens/repcount/internal/config"
	"github.com/2beens/repcount/internal/db"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/middleware"
	"github.com/2beens/repcount/internal/telemetry/metrics"
	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/2beens/repcount/internal/workouts"
	"github.com/2beens/repcount/internal/workouts/tracker"
	"github.com/2beens/repcount/pkg"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const sessionsCleanupInterval = 8 * time.Hour

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	store          workouts.Store
	users          auth.UserStore
	loginChecker   *auth.LoginChecker
	authService    *auth.Service
	trackerService *tracker.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config      *config.Config
	Secrets     *config.Secrets
	VersionInfo string
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	secrets := params.Secrets
	if secrets == nil {
		secrets = &config.Secrets{}
	}

	s := &Server{
		config:       cfg,
		versionInfo:  params.VersionInfo,
		otelShutdown: func() {},
	}

	if secrets.HoneycombEnabled {
		// use honeycomb distro to setup OpenTelemetry SDK
		otelShutdown, err := tracing.HoneycombSetup(secrets.OtelServiceName)
		if err != nil {
			return nil, err
		}
		s.otelShutdown = otelShutdown
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	var extraCollectors []prometheus.Collector
	switch cfg.Storage {
	case config.StoragePostgres:
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBUser:         cfg.PostgresUser,
			DBPassword:     secrets.PostgresPassword,
			DBName:         cfg.PostgresDBName,
			TracingEnabled: secrets.HoneycombEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		s.dbPool = dbPool
		s.store = workouts.NewRepo(dbPool)
		s.users = auth.NewUsersRepo(dbPool)
		extraCollectors = append(extraCollectors, db.PoolCollector(dbPool, cfg.PostgresDBName))
	default:
		log.Warnln("using in-memory storage, all data is lost on restart")
		s.store = workouts.NewMemoryStore()
		s.users = auth.NewMemoryUsers()
	}

	if err := s.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init workout store: %w", err)
	}
	if err := s.users.Init(ctx); err != nil {
		return nil, fmt.Errorf("init users: %w", err)
	}
	if cfg.Storage == config.StorageMemory && secrets.DevPassword != "" {
		if err := s.seedDevUser(ctx, secrets.DevPassword); err != nil {
			return nil, err
		}
	}

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("repcount", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0) // set to 1 once serving

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: secrets.RedisPassword,
		DB:       0, // use default DB
	})
	if secrets.HoneycombEnabled {
		rdb.AddHook(redisotel.NewTracingHook())
	}
	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}
	s.redisClient = rdb

	s.authService = auth.NewAuthService(s.users, auth.DefaultTTL, rdb)
	s.loginChecker = auth.NewLoginChecker(auth.DefaultTTL, rdb)
	go func() {
		ticker := time.NewTicker(sessionsCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.authService.ScanAndClean(ctx)
			}
		}
	}()

	generatorConfig := analytics.DefaultGeneratorConfig()
	generatorConfig.WindowDays = cfg.AnalysisWindowDays
	trackerService, err := tracker.NewService(tracker.NewServiceParams{
		Store: s.store,
		Exporter: export.NewExporter(export.NewCache(
			cfg.ExportCacheSizeMB<<20,
			cfg.ExportCacheTTLSeconds,
		)),
		GeneratorConfig: generatorConfig,
		MetricsManager:  s.metricsManager,
		DefaultTimezone: cfg.DefaultTimezone,
	})
	if err != nil {
		return nil, fmt.Errorf("new tracker service: %w", err)
	}
	s.trackerService = trackerService

	return s, nil
}

func (s *Server) seedDevUser(ctx context.Context, password string) error {
	user, err := auth.NewUser("dev", password, s.config.DefaultTimezone, time.Now())
	if err != nil {
		return fmt.Errorf("new dev user: %w", err)
	}
	if _, err := s.users.Add(ctx, user); err != nil && !errors.Is(err, auth.ErrUsernameTaken) {
		return fmt.Errorf("add dev user: %w", err)
	}
	log.Infoln("dev user [dev] ready")
	return nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
	}).Methods("GET").Name("root")
	r.HandleFunc("/health", s.handleHealth).Methods("GET").Name("health")
	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		pkg.WriteTextResponseOK(w, s.versionInfo)
	}).Methods("GET").Name("version")

	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)

	loginRouter := auth.NewHandler(s.authService).SetupRoutes(r)
	// rate limit the /login and /logout endpoints to prevent abuse
	loginRouter.Use(middleware.RateLimit(reqRateLimiter, "login", s.config.LoginRateLimitPerMin, s.metricsManager))

	tracker.NewHandler(s.trackerService).SetupRoutes(
		r,
		reqRateLimiter,
		s.metricsManager,
		s.config.ExportRateLimitPerMin,
	)

	// all the rest - unhandled paths (and CORS preflights)
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "DELETE", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.loginChecker)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		log.Errorf("health: redis ping: %s", err)
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.dbPool != nil {
		if err := s.dbPool.Ping(ctx); err != nil {
			log.Errorf("health: db ping: %s", err)
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	pkg.WriteTextResponseOK(w, "healthy")
}

func (s *Server) Serve(host string, port int) {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      otelhttp.NewHandler(s.routerSetup(), "repcount-http"),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.MetricsHost, strconv.Itoa(s.config.MetricsPort))
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}
	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	s.store.Teardown()
	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
