package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
)

func sampleOrder() models.Order {
	return models.Order{
		OrderNumber: "ORD-20260101-ABCDEF12",
		TotalAmount: decimal.NewFromInt(1500),
		Currency:    "KES",
		OrderStatus: models.OrderStatusProcessing,
		Shipping:    models.ShippingSnapshot{FullName: "Amina", Email: "amina@example.com", Phone: "254712345678"},
		Items: []models.OrderItem{
			{ProductName: "Tea", Quantity: 2, UnitPrice: decimal.NewFromInt(750)},
		},
	}
}

func TestTelegram_PaymentConfirmed(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botbot-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("bot-token", "42", zap.NewNop())
	tg.baseURL = srv.URL

	order := sampleOrder()
	err := tg.PaymentConfirmed(context.Background(), order, models.Payment{
		Amount:          decimal.NewFromInt(1500),
		Currency:        "KES",
		Method:          models.PaymentMethodMpesa,
		ProviderReceipt: "QGH12345",
	})

	require.NoError(t, err)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, order.OrderNumber)
	assert.Contains(t, got.Text, "1,500.00 KES")
	assert.NotContains(t, got.Text, "refund required")
}

func TestTelegram_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("bot-token", "42", zap.NewNop())
	tg.baseURL = srv.URL

	assert.Error(t, tg.OrderCancelled(context.Background(), sampleOrder()))
}

func TestTelegram_Unconfigured(t *testing.T) {
	tg := NewTelegram("", "", zap.NewNop())
	assert.NoError(t, tg.OrderCancelled(context.Background(), sampleOrder()))
}

func TestMailer_OrderCancelled(t *testing.T) {
	m := NewMailer(SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "shop@example.com", Password: "x"}, zap.NewNop())

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	m.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	require.NoError(t, m.OrderCancelled(context.Background(), sampleOrder()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"amina@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "No money was charged")
}

func TestMailer_SkipsWithoutRecipient(t *testing.T) {
	m := NewMailer(SMTPConfig{Host: "smtp.example.com", Port: "587"}, zap.NewNop())
	m.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("should not send")
		return nil
	}

	order := sampleOrder()
	order.Shipping.Email = ""
	assert.NoError(t, m.PaymentConfirmed(context.Background(), order, models.Payment{}))
}

type failingNotifier struct{ Nop }

func (failingNotifier) OrderCancelled(context.Context, models.Order) error {
	return errors.New("boom")
}

func TestMulti_JoinsErrors(t *testing.T) {
	m := Multi{Nop{}, failingNotifier{}}

	assert.EqualError(t, m.OrderCancelled(context.Background(), sampleOrder()), "boom")
	assert.NoError(t, m.PaymentConfirmed(context.Background(), sampleOrder(), models.Payment{}))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1,234,567.50 KES", FormatAmount("1234567.50", "KES"))
	assert.Equal(t, "999", FormatAmount("999", ""))
	assert.Equal(t, "-1,000.00 USD", FormatAmount("-1000.00", "USD"))
}
