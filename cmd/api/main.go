package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"

	"github.com/postpilot-app/postpilot/backend/internal/handlers"
	"github.com/postpilot-app/postpilot/backend/internal/middleware"
	"github.com/postpilot-app/postpilot/backend/internal/publisher"
	"github.com/postpilot-app/postpilot/backend/internal/suggest"
)

type getenvFunc func(string) string

// deps are swapped out in tests so run never needs a real database or
// listener.
type deps struct {
	loadEnv        func(...string) error
	getenv         getenvFunc
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	notify         func(c chan<- os.Signal, sig ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		loadEnv:        godotenv.Load,
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

func run(d deps) error {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}

	databaseURL := ""
	if d.getenv != nil {
		databaseURL = d.getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if d.openDB == nil {
		return fmt.Errorf("openDB dependency is required")
	}
	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if d.migrateUp != nil {
		if err := d.migrateUp(db); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Println("Database is up-to-date")
	}

	h := handlers.New(db)
	r := buildRouter(h)

	// Plan limits on write endpoints, then CORS on the outside.
	enforcer := middleware.NewPlanEnforcer(db)
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := c.Handler(enforcer.Middleware(r))

	// Root context for background workers
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startSuggestionRunnerIfEnabled(rootCtx, db, h, d.getenv)
	startPublishWorkerIfEnabled(rootCtx, db, h, d.getenv)

	port := resolvePort(d.getenv)
	srv := &http.Server{
		Handler:      handler,
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if d.listenAndServe == nil {
		return fmt.Errorf("listenAndServe dependency is required")
	}
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}

func buildRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Posts
	r.HandleFunc("/api/posts/user/{userId}", h.ListPostsForUser).Methods("GET")
	r.HandleFunc("/api/posts/user/{userId}", h.CreatePostForUser).Methods("POST")
	r.HandleFunc("/api/posts/{postId}/user/{userId}", h.UpdatePostForUser).Methods("PUT")
	r.HandleFunc("/api/posts/{postId}/user/{userId}", h.DeletePostForUser).Methods("DELETE")

	// Social connections
	r.HandleFunc("/api/social-connections/user/{userId}", h.CreateSocialConnection).Methods("POST")
	r.HandleFunc("/api/social-connections/user/{userId}", h.GetUserSocialConnections).Methods("GET")
	r.HandleFunc("/api/social-connections/{id}/user/{userId}", h.DeleteSocialConnection).Methods("DELETE")

	// Calendar, slot resolution and daily suggestion schedules
	handlers.RegisterSchedulingRoutes(h, r)

	// Realtime events (internal, proxied)
	r.HandleFunc("/api/events/ws", h.EventsWebSocket)

	return r
}

func migrateUp(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("nil database handle")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startSuggestionRunnerIfEnabled(ctx context.Context, db *sql.DB, h *handlers.Handler, getenv getenvFunc) {
	enabled := getenv("SUGGESTIONS_ENABLED")
	if enabled != "" && enabled != "true" {
		log.Printf("[Suggest] disabled via SUGGESTIONS_ENABLED=%q", enabled)
		return
	}

	chat := suggest.NewOpenAIChat(getenv("OPENAI_API_KEY"), getenv("OPENAI_MODEL"))
	gen := suggest.NewGenerator(db, chat)
	gen.SetNotify(func(userID, postID string) {
		h.EmitPostEvent(userID, postID, "suggested")
	})
	runner := suggest.NewRunner(db, gen)
	h.SetScheduleReloader(runner)
	if err := runner.Start(ctx); err != nil {
		log.Printf("[Suggest] runner failed to start err=%v", err)
	}
}

func startPublishWorkerIfEnabled(ctx context.Context, db *sql.DB, h *handlers.Handler, getenv getenvFunc) {
	enabled := getenv("PUBLISHER_ENABLED")
	if enabled != "" && enabled != "true" {
		log.Printf("[Publisher] disabled via PUBLISHER_ENABLED=%q", enabled)
		return
	}

	interval := parseIntervalFromEnv(getenv, "PUBLISHER_INTERVAL_SECONDS", time.Minute)
	w := publisher.New(db,
		publisher.NewLinkedInClient(getenv("LINKEDIN_API_BASE_URL")),
		publisher.NewSubstackClient(getenv("SUBSTACK_API_BASE_URL")),
	)
	w.SetEmit(func(userID, postID, status string) {
		h.EmitPostEvent(userID, postID, status)
	})
	go w.Start(ctx, interval)
}

func resolvePort(getenv getenvFunc) string {
	if getenv != nil {
		if p := getenv("PORT"); p != "" {
			return p
		}
	}
	return "18920"
}

func parseIntervalFromEnv(getenv getenvFunc, key string, fallback time.Duration) time.Duration {
	if getenv == nil {
		return fallback
	}
	v := getenv(key)
	if v == "" {
		return fallback
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
