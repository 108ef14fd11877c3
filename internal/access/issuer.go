// Package access turns a verified payment notification into a single-use
// channel invite delivered to the payer.
package access

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	relayerrors "github.com/accessrelay/accessrelay/internal/errors"
	"github.com/accessrelay/accessrelay/internal/logging"
	"github.com/accessrelay/accessrelay/internal/metrics"
	"github.com/accessrelay/accessrelay/internal/payload"
)

// DefaultGrantMessage is sent to the payer; {link} is replaced with the invite.
const DefaultGrantMessage = "🎉 Оплата получена!\n\nВот твоя персональная ссылка для входа в курс:\n\n{link}"

const (
	inviteMemberLimit  = 1
	inviteNamePrefix   = "access_"
	defaultCallTimeout = 5 * time.Second
)

// Platform is the chat platform the relay issues invites on.
type Platform interface {
	CreateInvite(ctx context.Context, chatID int64, name string, memberLimit int, expireAt time.Time) (string, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	RevokeInvite(ctx context.Context, chatID int64, inviteLink string) error
}

// Outcome is the terminal state of a notification that did not fail.
type Outcome string

const (
	OutcomeStatusIgnored Outcome = "status_ignored"
	OutcomeAlreadyIssued Outcome = "already_issued"
	OutcomeInFlight      Outcome = "in_flight"
	OutcomeIssued        Outcome = "issued"
)

// Result describes what IssueAccess did.
type Result struct {
	Outcome     Outcome
	RecipientID int64
	InviteLink  string
}

// Config controls invite issuance.
type Config struct {
	ChannelID    int64
	InviteTTL    time.Duration // zero means invites never expire
	CallTimeout  time.Duration
	GrantMessage string
	Now          func() time.Time
}

// Issuer grants channel access for successful payments.
type Issuer struct {
	platform Platform
	ledger   Ledger
	cfg      Config
}

// NewIssuer creates an Issuer. A nil ledger disables de-duplication.
func NewIssuer(platform Platform, ledger Ledger, cfg Config) *Issuer {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if strings.TrimSpace(cfg.GrantMessage) == "" {
		cfg.GrantMessage = DefaultGrantMessage
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{platform: platform, ledger: ledger, cfg: cfg}
}

// IssueAccess runs the grant flow for a notification whose signature has
// already been verified. Errors are *relayerrors.AccessError values.
func (i *Issuer) IssueAccess(ctx context.Context, n payload.Notification) (Result, error) {
	log := logging.FromContext(ctx)

	if !n.IsSuccess() {
		log.Info().Str("order_ref", n.OrderRef).Str("payment_status", n.Status).Msg("Ignoring non-success payment notification")
		return Result{Outcome: OutcomeStatusIgnored}, nil
	}

	recipient, err := n.RecipientID()
	if err != nil {
		return Result{}, relayerrors.InvalidRecipient(n.OrderRef, err)
	}
	key := strconv.FormatInt(recipient, 10)
	result := Result{RecipientID: recipient}

	reservation, err := i.ledger.Reserve(ctx, key)
	if err != nil {
		metrics.RecordLedger("reserve", "error")
		return result, relayerrors.Platform("reserve_grant", key, err)
	}
	metrics.RecordLedger("reserve", reservation.String())
	switch reservation {
	case ReservationIssued:
		log.Info().Str("order_ref", key).Msg("Access already issued for order")
		result.Outcome = OutcomeAlreadyIssued
		return result, nil
	case ReservationBusy:
		log.Warn().Str("order_ref", key).Msg("Another delivery for this order is in flight")
		result.Outcome = OutcomeInFlight
		return result, nil
	}

	link, err := i.createInvite(ctx, recipient)
	if err != nil {
		i.release(ctx, key)
		return result, relayerrors.Platform("create_invite", key, err)
	}

	text := strings.ReplaceAll(i.cfg.GrantMessage, "{link}", link)
	if err := i.sendMessage(ctx, recipient, text); err != nil {
		i.revoke(ctx, key, link)
		i.release(ctx, key)
		if errors.Is(err, relayerrors.ErrRecipientUnreachable) {
			return result, relayerrors.Delivery(key, err)
		}
		return result, relayerrors.Platform("send_message", key, err)
	}

	result.Outcome = OutcomeIssued
	result.InviteLink = link
	if err := i.ledger.Complete(context.WithoutCancel(ctx), key, link); err != nil {
		// The invite is already in the user's hands; a redelivery may mint another.
		metrics.RecordLedger("complete", "error")
		log.Error().Err(err).Str("order_ref", key).Msg("Failed to record issued grant")
	} else {
		metrics.RecordLedger("complete", "ok")
	}

	log.Info().Str("order_ref", key).Int64("recipient_id", recipient).Msg("Access granted")
	return result, nil
}

func (i *Issuer) createInvite(ctx context.Context, recipient int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.CallTimeout)
	defer cancel()

	var expireAt time.Time
	if i.cfg.InviteTTL > 0 {
		expireAt = i.cfg.Now().Add(i.cfg.InviteTTL)
	}
	start := time.Now()
	link, err := i.platform.CreateInvite(ctx, i.cfg.ChannelID, inviteNamePrefix+strconv.FormatInt(recipient, 10), inviteMemberLimit, expireAt)
	metrics.RecordPlatformCall("create_invite", start, err)
	return link, err
}

func (i *Issuer) sendMessage(ctx context.Context, recipient int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := i.platform.SendMessage(ctx, recipient, text)
	metrics.RecordPlatformCall("send_message", start, err)
	return err
}

// revoke invalidates an invite that never reached its recipient.
func (i *Issuer) revoke(ctx context.Context, key, link string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := i.platform.RevokeInvite(ctx, i.cfg.ChannelID, link)
	metrics.RecordPlatformCall("revoke_invite", start, err)
	if err != nil {
		log := logging.FromContext(ctx)
		log.Warn().Err(err).Str("order_ref", key).Msg("Failed to revoke undelivered invite")
	}
}

func (i *Issuer) release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.CallTimeout)
	defer cancel()

	if err := i.ledger.Release(ctx, key); err != nil {
		metrics.RecordLedger("release", "error")
		log := logging.FromContext(ctx)
		log.Warn().Err(err).Str("order_ref", key).Msg("Failed to release grant reservation")
		return
	}
	metrics.RecordLedger("release", "ok")
}
