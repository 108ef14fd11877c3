// Package bot handles Telegram updates: /start replies with a payment link
// whose order number is the sender's chat id.
package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/accessrelay/accessrelay/internal/logging"
	"github.com/accessrelay/accessrelay/internal/metrics"
	"github.com/accessrelay/accessrelay/internal/prodamus"
	"github.com/accessrelay/accessrelay/internal/telegram"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const (
	maxUpdateBytes = 1 << 20

	defaultGreeting = "Привет 🌿\n\n" +
		"Я помогу тебе оплатить и получить доступ к курсу «{product}».\n\n" +
		"👉 Оплата по ссылке:\n{link}\n\n" +
		"После оплаты бот автоматически пришлёт ссылку на закрытый канал 💫"
	defaultInvoiceFailed = "⚠️ Ошибка при создании ссылки на оплату. Попробуй позже."
	defaultHelp          = "Отправь /start, чтобы получить ссылку на оплату."
)

// InvoiceCreator creates payment links.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req prodamus.InvoiceRequest) (string, error)
}

// Messenger sends chat messages.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config holds the invoice template and reply texts.
type Config struct {
	SecretToken string
	Price       int64
	Currency    string
	ProductName string
	Description string
	ReturnURL   string
	CallTimeout time.Duration

	Greeting      string // {link} and {product} are substituted
	InvoiceFailed string
	Help          string
}

// Handler serves POST /webhook/telegram.
type Handler struct {
	invoices  InvoiceCreator
	messenger Messenger
	cfg       Config
}

// NewHandler creates an update handler.
func NewHandler(invoices InvoiceCreator, messenger Messenger, cfg Config) *Handler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	if cfg.InvoiceFailed == "" {
		cfg.InvoiceFailed = defaultInvoiceFailed
	}
	if cfg.Help == "" {
		cfg.Help = defaultHelp
	}
	return &Handler{invoices: invoices, messenger: messenger, cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log := logging.FromContext(r.Context())
	if h.cfg.SecretToken != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.SecretToken)) != 1 {
			log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected chat update with bad secret token")
			metrics.BotUpdatesTotal.WithLabelValues("", "forbidden").Inc()
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read chat update")
		w.WriteHeader(http.StatusOK)
		return
	}

	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		// Redelivery would fail the same way; acknowledge and drop.
		log.Warn().Err(err).Msg("Dropping undecodable chat update")
		metrics.BotUpdatesTotal.WithLabelValues("", "invalid").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	h.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

// HandleUpdate processes a single update. Failures are logged, never returned,
// so the platform does not redeliver.
func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		metrics.BotUpdatesTotal.WithLabelValues("", "ignored").Inc()
		return
	}

	command := msg.Command()
	log := logging.FromContext(ctx).With().
		Int64("update_id", update.UpdateID).
		Int64("user_id", msg.From.ID).
		Str("command", command).
		Logger()

	var reply string
	result := "ok"
	switch command {
	case "start":
		link, err := h.createInvoice(ctx, msg.From.ID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create payment link")
			reply = h.cfg.InvoiceFailed
			result = "invoice_error"
		} else {
			reply = strings.NewReplacer("{link}", link, "{product}", h.cfg.ProductName).Replace(h.cfg.Greeting)
			log.Info().Msg("Sent payment link")
		}
	default:
		reply = h.cfg.Help
		command = "other"
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()
	if err := h.messenger.SendMessage(sendCtx, msg.Chat.ID, reply); err != nil {
		log.Error().Err(err).Msg("Failed to send reply")
		result = "reply_error"
	}
	metrics.BotUpdatesTotal.WithLabelValues(command, result).Inc()
}

func (h *Handler) createInvoice(ctx context.Context, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	link, err := h.invoices.CreateInvoice(ctx, prodamus.InvoiceRequest{
		OrderNum:    strconv.FormatInt(userID, 10),
		Sum:         h.cfg.Price,
		Currency:    h.cfg.Currency,
		Name:        h.cfg.ProductName,
		Description: h.cfg.Description,
		SuccessURL:  h.cfg.ReturnURL,
		FailURL:     h.cfg.ReturnURL,
	})
	metrics.RecordPlatformCall("create_payment_link", start, err)
	return link, err
}
