package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atende/assignment"
	"atende/atendimento"
	"atende/auth"
	"atende/automation"
	"atende/checkout"
	"atende/config"
	"atende/dashboard"
	"atende/database"
	"atende/events"
	"atende/loader"
	"atende/ratelimit"
	"atende/realtime"
	"atende/supabase"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// App は起動時に組み立てる依存関係の一式です。
type App struct {
	Env        config.Env
	DB         *sqlx.DB
	Ring       *events.Ring
	Hub        *realtime.Hub
	Assignment *assignment.Service
	Tickets    *atendimento.Service
	Checkout   *checkout.Service
	Printer    automation.Printer
	Cache      dashboard.Cache
	Auth       *auth.Middleware
	Limiter    *ratelimit.MapLimiter
}

func configureLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Printf("WARN: unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func main() {
	env, err := config.LoadEnv(".env")
	if err != nil {
		log.Fatalf("env load error: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("WARN: Failed to load config file: %v. Using defaults.", err)
		cfg = config.GetConfig()
	}
	configureLogging(cfg.LogLevel)

	log.Println("Connecting to database...")
	db, err := database.Open(env.DBDriver, env.DBDSN)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	log.Printf("Database connection successful (%s).", env.DBDriver)

	if err := loader.InitDatabase(db); err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	if items, plans, err := loader.LoadCatalogYAML(db, cfg.CatalogSeedPath); err != nil {
		log.Printf("WARN: catalog seed failed: %v", err)
	} else if items+plans > 0 {
		log.Printf("Catalog seed loaded: %d item(s), %d plan(s).", items, plans)
	}

	app := &App{Env: env, DB: db, Ring: events.NewRing(200), Hub: realtime.NewHub()}

	pubs := events.Multi{app.Ring, app.Hub}
	if env.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(env.AMQPURL, env.AMQPExchange)
		if err != nil {
			log.Printf("WARN: AMQP unavailable, events stay local: %v", err)
		} else {
			defer amqpPub.Close()
			pubs = append(pubs, amqpPub)
			log.Printf("Publishing events to exchange %s.", env.AMQPExchange)
		}
	} else {
		pubs = append(pubs, events.Noop{})
	}

	app.Assignment = assignment.NewService(db, pubs)
	app.Tickets = atendimento.NewService(db, app.Assignment, pubs)

	var provider checkout.Provider = checkout.DisabledProvider{}
	if env.CheckoutURL != "" {
		p, err := checkout.NewHTTPProvider(env.CheckoutURL, env.CheckoutAPIKey, nil)
		if err != nil {
			log.Fatalf("checkout provider error: %v", err)
		}
		provider = p
	} else {
		log.Println("WARN: CHECKOUT_URL is not set, checkout is disabled.")
	}
	if env.CheckoutWebhookSecret == "" {
		log.Println("WARN: CHECKOUT_WEBHOOK_SECRET is not set, every webhook will be rejected.")
	}
	app.Checkout = checkout.NewService(db, provider, pubs, checkout.Options{
		WebhookSecret: env.CheckoutWebhookSecret,
		SuccessURL:    env.CheckoutSuccessURL,
		CancelURL:     env.CheckoutCancelURL,
	})

	printer := automation.NewRodPrinter(env.ChromeBin)
	defer printer.Close()
	app.Printer = printer

	app.Cache = dashboard.NewMemoryCache()
	if env.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := dashboard.NewRedisCache(ctx, env.RedisAddr)
		cancel()
		if err != nil {
			log.Printf("WARN: Redis unavailable, using in-memory dashboard cache: %v", err)
		} else {
			defer rc.Close()
			app.Cache = rc
		}
	}

	var users auth.UserGetter
	if env.SupabaseURL != "" {
		sb, err := supabase.New(supabase.Config{URL: env.SupabaseURL, APIKey: env.SupabaseAnonKey})
		if err != nil {
			log.Fatalf("supabase client error: %v", err)
		}
		users = sb.Auth()
	}
	app.Auth = auth.NewMiddleware(env.JWTSecret, users)
	app.Limiter = ratelimit.New(5, 20, 10*time.Minute)

	sched, err := assignment.NewScheduler(app.Assignment, time.Duration(cfg.AssignIntervalSeconds)*time.Second)
	if err != nil {
		log.Fatalf("scheduler error: %v", err)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              env.Addr,
		Handler:           SetupRoutes(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting server on %s", env.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server start error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: graceful shutdown failed: %v", err)
	}
	sched.Stop(shutdownCtx)
	app.Hub.Close()
	log.Println("Server stopped.")
}
