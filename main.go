package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sketchd/core"
	"sketchd/handlers/api/objects"
	"sketchd/handlers/realtime"
	"sketchd/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store core.ObjectStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}
			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}
			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Route("/api/boards/{boardId}", func(r chi.Router) {
		r.Get("/objects", objects.HandleList(store))
		r.Post("/objects", objects.HandleCreate(store))
		r.Post("/objects/batch", objects.HandleBatchUpdate(store))
		r.Post("/locks/release-expired", objects.HandleReleaseExpiredLocks(store))
	})

	r.Route("/api/objects/{id}", func(r chi.Router) {
		r.Get("/", objects.HandleGet(store))
		r.Patch("/", objects.HandleUpdate(store))
		r.Delete("/", objects.HandleDelete(store))
		r.Post("/lock", objects.HandleAcquireLock(store))
		r.Delete("/lock", objects.HandleReleaseLock(store))
	})

	r.Get("/api/boards", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, realtime.GetActiveBoards())
	})

	return r
}

// startLockJanitor sweeps abandoned locks when LOCK_TTL (seconds) is set.
// Locks never expire on their own; a client that disconnects while holding
// one leaves the object locked until this sweep or an explicit release.
func startLockJanitor(store core.ObjectStore) {
	raw := os.Getenv("LOCK_TTL")
	if raw == "" {
		return
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		logrus.WithField("LOCK_TTL", raw).Warn("Ignoring invalid LOCK_TTL")
		return
	}
	ttl := time.Duration(secs) * time.Second

	logrus.WithField("ttl", ttl).Info("Lock janitor enabled")
	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for range ticker.C {
			for boardID, count := range realtime.GetActiveBoards() {
				if count == 0 {
					continue
				}
				if _, err := store.ReleaseExpiredLocks(context.Background(), boardID, ttl); err != nil {
					logrus.WithError(err).WithField("board_id", boardID).Warn("Lock sweep failed")
				}
			}
		}
	}()
}

func waitForShutdown(ioo *socketio.Server) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	_ = godotenv.Load()

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	store := stores.GetStore()

	r := setupRouter(store)
	ioo := realtime.SetupSocketIO(store)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	startLockJanitor(store)

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(ioo)
}
