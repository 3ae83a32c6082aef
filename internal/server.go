package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/sitegate/internal/admin"
	"github.com/2beens/sitegate/internal/auth"
	"github.com/2beens/sitegate/internal/config"
	"github.com/2beens/sitegate/internal/csrf"
	"github.com/2beens/sitegate/internal/db"
	"github.com/2beens/sitegate/internal/middleware"
	"github.com/2beens/sitegate/internal/notify"
	"github.com/2beens/sitegate/internal/public"
	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/site"
	"github.com/2beens/sitegate/internal/telemetry/metrics"
	"github.com/2beens/sitegate/internal/telemetry/tracing"
	"github.com/2beens/sitegate/pkg"
)

const (
	maxRequestBodyBytes = 1 << 20
	loginPath           = "/admin/login"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	credentials *auth.CredentialStore
	sessions    *auth.SessionManager
	guard       *csrf.Guard
	limiter     *ratelimit.Limiter
	clientIPs   *ratelimit.ClientIPResolver
	dispatcher  *notify.Dispatcher
	smtp        notify.SMTPConfig
	contacts    site.ContactRepo
	subscribers site.SubscriberRepo

	// stops the sweepers
	cancelBackground context.CancelFunc

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	DBUser                  string
	DBPassword              string
	RedisPassword           string
	HoneycombTracingEnabled bool
	// SMTP settings source, the process env when nil
	SMTPLookuper envconfig.Lookuper
}

// serverDeps are the storage and delivery backends, swapped for in-memory ones in tests.
type serverDeps struct {
	credentialRepo auth.CredentialRepo
	sessionStore   auth.SessionStore
	contacts       site.ContactRepo
	subscribers    site.SubscriberRepo
	transport      notify.Transport
	smtp           notify.SMTPConfig
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBUser:         params.DBUser,
		DBPassword:     params.DBPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("ping postgres: %s", err)
	}

	promRegistry := metrics.SetupPrometheus(db.NewPoolCollector(dbPool, cfg.PostgresDBName))
	metricsManager := metrics.NewManager("sitegate", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "sitegate")
	if err != nil {
		return nil, err
	}

	var (
		rdb          *redis.Client
		sessionStore auth.SessionStore
	)
	if cfg.Session.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0,
		})
		if params.HoneycombTracingEnabled {
			rdb.AddHook(redisotel.NewTracingHook())
		}

		rdbStatus := rdb.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("ping redis: %s", err)
		} else {
			log.Tracef("redis ping ok (%s)", rdbStatus.Val())
		}
		sessionStore = auth.NewRedisSessionStore(rdb)
	} else {
		log.Warnln("sessions kept in memory, a restart logs the admin out")
		sessionStore = auth.NewMemSessionStore()
	}

	smtpConfig, err := notify.LoadSMTPConfig(ctx, params.SMTPLookuper)
	if err != nil {
		return nil, fmt.Errorf("load smtp config: %w", err)
	}
	if !smtpConfig.Configured() {
		log.Warnln("SMTP_USERNAME / SMTP_PASSWORD not set, emails will be recorded as failed")
	}

	s := &Server{
		config:         cfg,
		versionInfo:    params.VersionInfo,
		dbPool:         dbPool,
		redisClient:    rdb,
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	if err := s.setup(serverDeps{
		credentialRepo: auth.NewPsqlCredentialRepo(dbPool),
		sessionStore:   sessionStore,
		contacts:       site.NewPsqlContactRepo(dbPool),
		subscribers:    site.NewPsqlSubscriberRepo(dbPool),
		transport:      notify.NewSMTPTransport(smtpConfig, cfg.Mail.ConnectTimeout.Duration),
		smtp:           smtpConfig,
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// setup builds the gate components on top of the given backends.
func (s *Server) setup(deps serverDeps) error {
	cfg := s.config
	s.smtp = deps.smtp

	s.sessions = auth.NewSessionManager(auth.SessionManagerParams{
		Store:        deps.sessionStore,
		TTL:          cfg.Session.TTL.Duration,
		CookieName:   cfg.Session.CookieName,
		SecureCookie: cfg.Session.SecureCookie,
		Metrics:      s.metricsManager,
	})

	credentials, err := auth.NewCredentialStore(deps.credentialRepo, s.sessions, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("new credential store: %w", err)
	}
	s.credentials = credentials

	s.guard = csrf.NewGuard(csrf.GuardParams{
		SessionTTL:         cfg.Csrf.AdminTTL.Duration,
		AnonymousTTL:       cfg.Csrf.PublicTTL.Duration,
		AnonymousCacheSize: cfg.Csrf.AnonymousCacheSize,
	})

	s.limiter = ratelimit.NewLimiter(map[ratelimit.Action]ratelimit.Rule{
		ratelimit.ActionContactSubmit:    toRule(cfg.RateLimit.ContactSubmit),
		ratelimit.ActionNewsletterSignup: toRule(cfg.RateLimit.NewsletterSignup),
		ratelimit.ActionLoginAttempt:     toRule(cfg.RateLimit.LoginAttempt),
	})

	s.clientIPs, err = ratelimit.NewClientIPResolver(cfg.RateLimit.ClientIPSource, cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("new client ip resolver: %w", err)
	}

	s.dispatcher = notify.NewDispatcher(notify.DispatcherParams{
		Transport:            deps.transport,
		Metrics:              s.metricsManager,
		QueueSize:            cfg.Mail.QueueSize,
		Workers:              cfg.Mail.Workers,
		BroadcastConcurrency: cfg.Mail.BroadcastConcurrency,
		SendTimeout:          cfg.Mail.SendTimeout.Duration,
		TimeoutEscalation:    cfg.Mail.TimeoutEscalation,
		JobRetention:         cfg.Mail.JobRetention,
		SiteURL:              cfg.Mail.SiteURL,
		SenderName:           deps.smtp.SenderName,
		SenderEmail:          deps.smtp.SenderEmail,
	})

	s.contacts = deps.contacts
	s.subscribers = deps.subscribers
	return nil
}

func toRule(r config.Rule) ratelimit.Rule {
	return ratelimit.Rule{Limit: r.Limit, Window: r.Window.Duration}
}

func (s *Server) gate() middleware.Gate {
	return middleware.Gate{
		Sessions:        s.sessions,
		CookieName:      s.config.Session.CookieName,
		LoginPath:       loginPath,
		Limiter:         s.limiter,
		IPs:             s.clientIPs,
		Csrf:            s.guard,
		CsrfFieldName:   s.config.Csrf.FieldName,
		CsrfHeaderName:  s.config.Csrf.HeaderName,
		NonceCookieName: s.config.Csrf.NonceCookieName,
		AllowedOrigins:  s.config.AllowedOrigins,
		Metrics:         s.metricsManager,
	}
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("sitegate-router"))

	gate := s.gate()
	formToken := public.FormTokenParams{
		FieldName:       s.config.Csrf.FieldName,
		NonceCookieName: s.config.Csrf.NonceCookieName,
		TTL:             s.config.Csrf.PublicTTL.Duration,
		SecureCookie:    s.config.Session.SecureCookie,
	}

	publicHandler := public.NewHandler(s.guard, s.contacts, s.subscribers, formToken)
	publicHandler.SetupRoutes(r, gate)

	adminHandler := admin.NewHandler(admin.HandlerParams{
		Credentials: s.credentials,
		Sessions:    s.sessions,
		Guard:       s.guard,
		Dispatcher:  s.dispatcher,
		Contacts:    s.contacts,
		Subscribers: s.subscribers,
		Metrics:     s.metricsManager,
		SMTP:        s.smtp,
		FormToken:   formToken,
	})
	adminHandler.SetupRoutes(r, gate)

	r.HandleFunc("/", s.handleRoot).Methods("GET").Name("root")
	r.HandleFunc("/version", s.handleVersion).Methods("GET").Name("version")

	// anything else
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.LimitAndDrainBody(maxRequestBodyBytes))

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSON(w, http.StatusOK, map[string]string{"version": s.versionInfo})
}

// startBackground runs the email workers and the periodic sweepers of
// expired sessions, csrf tokens and rate limit entries.
func (s *Server) startBackground(ctx context.Context) {
	ctx, s.cancelBackground = context.WithCancel(ctx)

	s.dispatcher.Start(ctx)
	go s.sessions.RunSweeper(ctx, s.config.Session.SweepEvery.Duration)
	go s.guard.RunSweeper(ctx, s.config.Csrf.SweepEvery.Duration)
	go s.limiter.RunSweeper(ctx, s.config.RateLimit.SweepEvery.Duration)
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	s.startBackground(ctx)

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      s.routerSetup(),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", otelhttp.NewHandler(
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
		"metrics",
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof("sitegate listening on %s", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %s", err)
		}
	}()

	go func() {
		log.Infof("metrics on %s", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debugln("shutting down")
	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	// no new requests first, then let queued emails go out
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Errorf("shut down http server: %s", err)
		}
		log.Warnln("http server stopped")
	}

	if err := s.dispatcher.Shutdown(ctx); err != nil {
		log.Errorf("email dispatcher shutdown: %s", err)
	}
	if s.cancelBackground != nil {
		s.cancelBackground()
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		log.Traceln("otel provider stopped")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("close redis client: %s", err)
		}
	}

	if s.dbPool != nil {
		s.dbPool.Close()
		log.Debugln("postgres pool closed")
	}

	if sentry.CurrentHub().Client() != nil && !sentry.Flush(5*time.Second) {
		log.Warnln("sentry flush timed out")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Errorf("shut down metrics server: %s", err)
		}
		log.Debugln("metrics server stopped")
	}
}
