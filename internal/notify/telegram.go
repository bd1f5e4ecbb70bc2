package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts order events to the admin chat.
type Telegram struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

// NewTelegram creates a notifier; an empty token or chat id turns every call into a no-op.
func NewTelegram(botToken, adminChatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     telegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendToAdmin sends an HTML message to the admin chat.
func (t *Telegram) SendToAdmin(ctx context.Context, text string) error {
	if t.botToken == "" || t.adminChatID == "" {
		t.logger.Debug("telegram not configured, skipping message")
		return nil
	}

	body, err := json.Marshal(telegramMessage{ChatID: t.adminChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *Telegram) PaymentConfirmed(ctx context.Context, order models.Order, payment models.Payment) error {
	var items strings.Builder
	for i, item := range order.Items {
		fmt.Fprintf(&items, "%d. <b>%s</b> %d x %s\n", i+1, item.ProductName, item.Quantity,
			FormatAmount(item.UnitPrice.StringFixed(2), order.Currency))
	}

	msg := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Order:</b> %s
<b>Customer:</b> %s
<b>Phone:</b> %s
<b>Items:</b>
%s
<b>Total:</b> %s
<b>Method:</b> %s
<b>Receipt:</b> %s`,
		order.OrderNumber,
		order.Shipping.FullName,
		order.Shipping.Phone,
		items.String(),
		FormatAmount(payment.Amount.StringFixed(2), payment.Currency),
		payment.Provider(),
		payment.ProviderReceipt,
	)
	if order.OrderStatus == models.OrderStatusCancelled {
		msg += "\n<b>⚠️ Order was already cancelled, refund required</b>"
	}
	return t.SendToAdmin(ctx, strings.TrimSpace(msg))
}

func (t *Telegram) OrderCancelled(ctx context.Context, order models.Order) error {
	msg := fmt.Sprintf(`<b>⏳ ORDER CANCELLED</b>
<b>Order:</b> %s
<b>Total:</b> %s
<b>Reason:</b> %s`,
		order.OrderNumber,
		FormatAmount(order.TotalAmount.StringFixed(2), order.Currency),
		order.CancellationReason,
	)
	return t.SendToAdmin(ctx, strings.TrimSpace(msg))
}

// FormatAmount adds thousand separators to the integer part of a decimal string.
func FormatAmount(amount, currency string) string {
	intPart, frac, _ := strings.Cut(amount, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}
