package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/gapchat/internal/auth"
	"github.com/4xmen/gapchat/internal/chat"
	"github.com/4xmen/gapchat/internal/db"
	"github.com/4xmen/gapchat/internal/handlers"
	"github.com/4xmen/gapchat/internal/invite"
	applog "github.com/4xmen/gapchat/internal/log"
	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/metrics"
	"github.com/4xmen/gapchat/internal/push"
	"github.com/4xmen/gapchat/internal/store"
	"github.com/4xmen/gapchat/internal/ws"
	"github.com/4xmen/gapchat/pkg/config"
	"github.com/4xmen/gapchat/pkg/i18n"
)

const inviteSweepInterval = 10 * time.Minute

func main() {
	cfg := config.Load()
	applog.Init(cfg.Environment, cfg.LogLevel)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatal().Err(err).Msg("command failed")
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "sweep-invites":
		return runSweepInvites(cfg, os.Stdout)
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  gapchat                Start the server")
	fmt.Fprintln(out, "  gapchat status         Show application statistics")
	fmt.Fprintln(out, "  gapchat status --json")
	fmt.Fprintln(out, "  gapchat sweep-invites  Deactivate expired invite links")
}

func runSweepInvites(cfg *config.Config, out io.Writer) error {
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	n, err := invite.New(store.New(database.GetConn()), nil).SweepExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deactivated %d expired invite link(s)\n", n)
	return nil
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	translate := i18n.ForLocale(cfg.Locale)
	st := store.New(database.GetConn())
	authSvc := auth.New(database.GetConn(), cfg.JWTSecret)

	hubOpts := []ws.Option{ws.WithBuffer(cfg.EventBuffer), ws.WithTranslator(translate)}
	notifier := push.NewNotifier(st, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, translate)
	if notifier != nil {
		hubOpts = append(hubOpts, ws.WithOfflineNotifier(notifier))
	} else {
		log.Info().Msg("web push disabled: VAPID keys not configured")
	}
	hub := ws.NewHub(hubOpts...)

	engine := message.New(st, hub, message.WithEditWindow(cfg.EditWindow))
	invites := invite.New(st, hub,
		invite.WithDefaultTTL(cfg.InviteTTL),
		invite.WithAttempts(cfg.InviteCodeAttempts),
	)
	chats := chat.New(st, hub)
	hub.SetDispatcher(ws.NewDispatcher(hub, engine, st))

	go hub.Run(ctx)
	go sweepInvites(ctx, invites, inviteSweepInterval)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery(translate))
	router.Use(corsMiddleware(cfg.CORSOrigins))
	if cfg.MetricsEnabled {
		router.Use(metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(authSvc, translate)
	api := &handlers.API{
		Auth:     authHandler,
		Chats:    handlers.NewChatHandler(chats, engine, translate),
		Messages: handlers.NewMessageHandler(engine, translate),
		Invites:  handlers.NewInviteHandler(invites, translate),
		Push:     handlers.NewPushHandler(st, notifier.VAPIDPublicKey(), translate),
		Users:    handlers.NewUserHandler(st, hub, translate),

		LoginGuard:    rateLimitMiddleware(limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5}), translate),
		RegisterGuard: rateLimitMiddleware(limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2}), translate),
		RedeemGuard:   rateLimitMiddleware(limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 10}), translate),
	}
	api.Mount(router)

	router.GET("/ws", authHandler.AuthMiddleware(), hub.HandleWebSocket)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Connections()})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": translate("not found"), "code": "not_found"})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepInvites periodically deactivates expired invite links so listings
// and redemption checks stay cheap.
func sweepInvites(ctx context.Context, invites *invite.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := invites.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("invite sweep failed")
			}
		}
	}
}
