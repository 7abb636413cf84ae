package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"pawchat/backend"
	"pawchat/channels"
	"pawchat/config"
	"pawchat/core"
	"pawchat/handlers"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}
	cfg := config.Load()

	session := core.NewSession()
	registry := core.NewRegistry()
	open := core.NewOpenRooms()
	notifier := core.NewNotifier()
	client := backend.NewClient(cfg.BackendURL, session)

	engine := core.NewEngine(session, registry, open, notifier, client, core.Options{
		DefaultAvatarURL:     cfg.DefaultAvatarURL,
		DeferredRefreshDelay: cfg.DeferredRefreshDelay,
		CloseRefreshDelay:    cfg.CloseRefreshDelay,
	})

	poller := channels.NewPoller(client, session, engine)
	engine.SetRefresher(poller)

	live := channels.NewLiveClient(cfg.LiveURL, session, engine, cfg.LiveReconnectDelay, cfg.Heartbeat)
	engine.SetSubscriber(live)

	push := channels.NewPushListener(cfg.PushConnectURL, session, open, client, poller, notifier, cfg.PushRetryDelay)

	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := poller.RefreshNow(ctx); err != nil {
			log.Printf("refresh failed: %v", err)
		}
	}

	// The push connection follows the (loggedIn, viewer) pair; the live
	// connection is active only while the panel is open and a viewer is
	// logged in.
	engine.OnLoginChange(func(loggedIn bool) {
		if loggedIn {
			push.Start()
			if engine.PanelOpen() {
				live.Activate()
				go refresh()
			}
			return
		}
		push.Stop()
		live.Deactivate()
	})
	engine.OnPanelChange(func(panelOpen bool) {
		if panelOpen && session.LoggedIn() {
			live.Activate()
			go refresh()
			return
		}
		live.Deactivate()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go engine.Run(ctx)

	r := mux.NewRouter()
	api := handlers.NewChatAPI(engine, registry, open, notifier, session, cfg.DefaultAvatarURL)
	api.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		push.Stop()
		live.Deactivate()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 pawchat core starting on http://localhost:%s\n", cfg.Port)
	log.Printf("📡 Collaborator backend: %s\n", cfg.BackendURL)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
