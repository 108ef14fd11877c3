package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/accessrelay/accessrelay/internal/prodamus"
	"github.com/accessrelay/accessrelay/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoices struct {
	mu       sync.Mutex
	requests []prodamus.InvoiceRequest
	link     string
	err      error
}

func (f *fakeInvoices) CreateInvoice(_ context.Context, req prodamus.InvoiceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.link, f.err
}

type sent struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: chatID, text: text})
	return f.err
}

func newTestHandler(invoices *fakeInvoices, messenger *fakeMessenger) *Handler {
	return NewHandler(invoices, messenger, Config{
		SecretToken: "s3cret",
		Price:       4500,
		Currency:    "rub",
		ProductName: "Живое лицо",
		ReturnURL:   "https://t.me/example",
	})
}

func postUpdate(t *testing.T, h http.Handler, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const startUpdate = `{"update_id":1,"message":{"message_id":10,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":42,"type":"private"},"date":1,"text":"/start"}}`

func TestStartSendsPaymentLink(t *testing.T) {
	invoices := &fakeInvoices{link: "https://pay.example/abc"}
	messenger := &fakeMessenger{}
	h := newTestHandler(invoices, messenger)

	rec := postUpdate(t, h, "s3cret", startUpdate)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, invoices.requests, 1)
	req := invoices.requests[0]
	assert.Equal(t, "42", req.OrderNum)
	assert.Equal(t, int64(4500), req.Sum)
	assert.Equal(t, "rub", req.Currency)
	assert.Equal(t, "https://t.me/example", req.SuccessURL)
	assert.Equal(t, "https://t.me/example", req.FailURL)

	require.Len(t, messenger.sent, 1)
	assert.Equal(t, int64(42), messenger.sent[0].chatID)
	assert.Contains(t, messenger.sent[0].text, "https://pay.example/abc")
	assert.Contains(t, messenger.sent[0].text, "Живое лицо")
}

func TestStartInvoiceFailureSendsApology(t *testing.T) {
	invoices := &fakeInvoices{err: errors.New("prodamus: HTTP 500")}
	messenger := &fakeMessenger{}
	h := newTestHandler(invoices, messenger)

	rec := postUpdate(t, h, "s3cret", startUpdate)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, defaultInvoiceFailed, messenger.sent[0].text)
}

func TestOtherMessageGetsHelp(t *testing.T) {
	invoices := &fakeInvoices{}
	messenger := &fakeMessenger{}
	h := newTestHandler(invoices, messenger)

	body := `{"update_id":2,"message":{"message_id":11,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":42,"type":"private"},"date":1,"text":"hello"}}`
	rec := postUpdate(t, h, "s3cret", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, invoices.requests)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, defaultHelp, messenger.sent[0].text)
}

func TestRejectsBadSecretToken(t *testing.T) {
	invoices := &fakeInvoices{}
	messenger := &fakeMessenger{}
	h := newTestHandler(invoices, messenger)

	for _, secret := range []string{"", "wrong"} {
		rec := postUpdate(t, h, secret, startUpdate)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	assert.Empty(t, invoices.requests)
	assert.Empty(t, messenger.sent)
}

func TestSecretTokenOptional(t *testing.T) {
	invoices := &fakeInvoices{link: "https://pay.example/abc"}
	messenger := &fakeMessenger{}
	h := NewHandler(invoices, messenger, Config{Price: 1})

	rec := postUpdate(t, h, "", startUpdate)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, messenger.sent, 1)
}

func TestIgnoresUndecodableAndNonMessageUpdates(t *testing.T) {
	invoices := &fakeInvoices{}
	messenger := &fakeMessenger{}
	h := newTestHandler(invoices, messenger)

	for _, body := range []string{
		"not json",
		`{"update_id":3}`,
		`{"update_id":4,"message":{"message_id":1,"from":{"id":7,"is_bot":true,"first_name":"B"},"chat":{"id":7,"type":"private"},"text":"/start"}}`,
	} {
		rec := postUpdate(t, h, "s3cret", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, invoices.requests)
	assert.Empty(t, messenger.sent)
}

func TestReplyFailureStillAcknowledges(t *testing.T) {
	invoices := &fakeInvoices{link: "https://pay.example/abc"}
	messenger := &fakeMessenger{err: &telegram.APIError{Method: "sendMessage", Code: 403, Description: "Forbidden"}}
	h := newTestHandler(invoices, messenger)

	rec := postUpdate(t, h, "s3cret", startUpdate)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&fakeInvoices{}, &fakeMessenger{})
	req := httptest.NewRequest(http.MethodGet, "/webhook/telegram", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
