package vault

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/cardholder-vault/internal/cache"
	"github.com/alovak/cardholder-vault/internal/expiry"
	"github.com/alovak/cardholder-vault/internal/middleware"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the vault
// service and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config
	db     *sql.DB
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "vault"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	var repository *Repository
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		repository = NewPGRepository(db)
	case "mem":
		if !a.config.AllowMemBackend {
			return fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
	}

	if a.config.ExpiryTZ != "" {
		if loc, err := time.LoadLocation(a.config.ExpiryTZ); err == nil {
			expiry.SetDefaultLocation(loc)
		} else {
			a.logger.Info("invalid EXPIRY_TZ; using default UTC", slog.String("tz", a.config.ExpiryTZ), slog.Any("err", err))
		}
	}

	if a.config.JWTKey == "" {
		return fmt.Errorf("JWT_KEY is required")
	}

	// One cache handle for the process lifetime; both services share it
	// through the coordinator.
	views := cache.New(a.config.CacheTTL)
	coordinator := NewCoordinator(views)
	accounts := NewAccountService(repository, coordinator, a.logger)
	instruments := NewInstrumentService(repository, coordinator, a.logger)

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(accounts, instruments)
	router.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthenticator([]byte(a.config.JWTKey)))
		api.AppendRoutes(r)
	})

	// Health endpoints
	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing db", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
