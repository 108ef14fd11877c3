// Package relay wires the payment webhook, chat update handler and
// supporting endpoints into a single HTTP server.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/accessrelay/accessrelay/internal/access"
	"github.com/accessrelay/accessrelay/internal/bot"
	"github.com/accessrelay/accessrelay/internal/httpclient"
	"github.com/accessrelay/accessrelay/internal/logging"
	"github.com/accessrelay/accessrelay/internal/prodamus"
	"github.com/accessrelay/accessrelay/internal/signature"
	"github.com/accessrelay/accessrelay/internal/telegram"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App is a fully wired relay.
type App struct {
	cfg      *Config
	handler  http.Handler
	telegram *telegram.Client
	closers  []io.Closer
}

// NewApp builds the relay from cfg. Close releases the ledger.
func NewApp(cfg *Config, version string) (*App, error) {
	ledger, closer, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := httpclient.New(cfg.OutboundTimeout)
	tg := telegram.NewClient(cfg.BotToken,
		telegram.WithBaseURL(cfg.TelegramAPIURL),
		telegram.WithHTTPClient(httpClient),
	)
	invoices := prodamus.NewClient(cfg.InvoiceURL, cfg.APIKey, httpClient)

	issuer := access.NewIssuer(tg, ledger, access.Config{
		ChannelID:   cfg.ChannelID,
		InviteTTL:   cfg.InviteTTL,
		CallTimeout: cfg.OutboundTimeout,
	})
	verifier := signature.NewVerifier(cfg.SecretKey, cfg.SignatureScheme, cfg.SignaturePrefix)
	log.Info().
		Str("signature_scheme", string(verifier.Scheme())).
		Str("signature_header", cfg.SignatureHeader).
		Msg("Payment notification verifier configured")

	updates := bot.NewHandler(invoices, tg, bot.Config{
		SecretToken: cfg.TelegramWebhookSecret,
		Price:       cfg.Price,
		Currency:    cfg.Currency,
		ProductName: cfg.ProductName,
		Description: cfg.Description,
		ReturnURL:   cfg.PaymentReturnURL,
		CallTimeout: cfg.OutboundTimeout,
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Payments:    NewPaymentWebhookHandler(verifier, issuer, cfg.SignatureHeader),
		Updates:     updates,
		Ledger:      ledger,
		RateLimiter: NewRateLimiter(cfg.WebhookRateLimit),
		Version:     version,
	})

	app := &App{cfg: cfg, handler: mux, telegram: tg}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Close releases resources held by the app.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openLedger(cfg *Config) (access.Ledger, io.Closer, error) {
	switch cfg.LedgerBackend {
	case LedgerNone:
		return access.NopLedger{}, nil, nil
	case LedgerSQLite:
		l, err := access.NewSQLiteLedger(cfg.LedgerPath, access.DefaultReservationTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return l, l, nil
	case LedgerRedis:
		l := access.NewRedisLedger(cfg.RedisAddr, access.DefaultReservationTTL)
		return l, l, nil
	default:
		return access.NewMemoryLedger(access.DefaultReservationTTL), nil, nil
	}
}

// RegisterTelegramWebhook checks the bot token, then replaces any previous
// webhook registration, dropping updates queued while the relay was down.
func (a *App) RegisterTelegramWebhook(ctx context.Context) error {
	webhookURL := a.cfg.TelegramWebhookURL()
	if webhookURL == "" {
		log.Info().Msg("PUBLIC_BASE_URL not set; skipping chat webhook registration")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 4*a.cfg.OutboundTimeout)
	defer cancel()

	me, err := a.telegram.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("check bot token: %w", err)
	}
	log.Info().Str("bot", me.Username).Int64("bot_id", me.ID).Msg("Bot token accepted")

	if err := a.telegram.DeleteWebhook(ctx, true); err != nil {
		return fmt.Errorf("delete chat webhook: %w", err)
	}
	if err := a.telegram.SetWebhook(ctx, webhookURL, a.cfg.TelegramWebhookSecret); err != nil {
		return fmt.Errorf("set chat webhook: %w", err)
	}
	log.Info().Str("url", webhookURL).Msg("Chat webhook registered")
	return nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Registration failure leaves payments working; /start just stops answering.
		if err := a.RegisterTelegramWebhook(gctx); err != nil {
			log.Error().Err(err).Msg("Chat webhook registration failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})
	return g.Wait()
}

// Run loads configuration and serves until SIGINT/SIGTERM or ctx cancellation.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "accessrelay",
	})

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "accessrelay",
	})

	log.Info().
		Str("version", version).
		Str("ledger", cfg.LedgerBackend).
		Int64("channel_id", cfg.ChannelID).
		Msg("Starting access relay")

	app, err := NewApp(cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close ledger")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx); err != nil {
		return err
	}
	log.Info().Msg("Relay stopped")
	return nil
}
