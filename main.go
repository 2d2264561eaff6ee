package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"boardsync/core"
	"boardsync/handlers/api/boards"
	"boardsync/handlers/auth"
	authMiddleware "boardsync/middleware"
	"boardsync/realtime"
	"boardsync/stores"
	"boardsync/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store core.BoardStore, authSvc *auth.Service, relay *realtime.Relay, registry core.RoomRegistry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth(authSvc))
			r.Post("/boards", boards.HandleCreate(store))
			r.Get("/boards", boards.HandleList(store))
			r.Patch("/boards/{id}", boards.HandleUpdate(store))
			r.Delete("/boards/{id}", boards.HandleDelete(store))
			r.Put("/boards/{id}/artboards/{artboardId}", boards.HandleSaveArtboard(store))
			r.Post("/boards/{id}/fork", boards.HandleFork(store))
			r.Get("/me", boards.HandleMe())
		})

		// Reads go through visibility checks, not the auth wall.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.OptionalAuth(authSvc))
			r.Get("/boards/{id}", boards.HandleGet(store))
		})
	})

	r.Get("/api/rooms", handleRooms(relay, registry))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authSvc.HandleLogin)
		r.Get("/callback", authSvc.HandleCallback)
	})

	return r
}

// handleRooms reports realtime occupancy plus, when the store keeps one, the
// registry of rooms that have seen traffic.
func handleRooms(relay *realtime.Relay, registry core.RoomRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"active": relay.ActiveRooms(),
		}
		if registry != nil {
			rooms, err := registry.ListRooms(r.Context())
			if err != nil {
				logrus.WithError(err).Error("Failed to list registered rooms")
			} else {
				resp["registered"] = rooms
			}
		}
		render.JSON(w, r, resp)
	}
}

func waitForShutdown(relay *realtime.Relay) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-exit

	logrus.Info("Shutting down...")
	relay.Server().Close(nil)
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	authSvc, err := auth.NewServiceFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize authentication")
	}

	store := stores.GetStore()
	registry, _ := store.(core.RoomRegistry)
	if registry == nil {
		logrus.Info("Configured store keeps no room registry")
	}

	bus := transport.NewBus()
	relay := realtime.NewRelay(bus, registry)

	r := setupRouter(store, authSvc, relay, registry)
	r.Mount("/socket.io/", relay.Server().ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(relay)
}
