package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
)

// SMTPConfig holds outbound mail credentials.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Mailer emails the customer using the address captured in the shipping snapshot.
type Mailer struct {
	cfg      SMTPConfig
	logger   *zap.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg SMTPConfig, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger, sendMail: smtp.SendMail}
}

func (m *Mailer) PaymentConfirmed(ctx context.Context, order models.Order, payment models.Payment) error {
	subject := fmt.Sprintf("Payment received for order %s", order.OrderNumber)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We received your payment of <b>%s</b> for order <b>%s</b>.</p><p>Receipt: %s</p>",
		order.Shipping.FullName,
		FormatAmount(payment.Amount.StringFixed(2), payment.Currency),
		order.OrderNumber,
		payment.ProviderReceipt,
	)
	return m.send(ctx, order.Shipping.Email, subject, body)
}

func (m *Mailer) OrderCancelled(ctx context.Context, order models.Order) error {
	subject := fmt.Sprintf("Order %s was cancelled", order.OrderNumber)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Order <b>%s</b> was cancelled because we did not receive a payment confirmation in time. "+
			"No money was charged.</p>",
		order.Shipping.FullName,
		order.OrderNumber,
	)
	return m.send(ctx, order.Shipping.Email, subject, body)
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	if m.cfg.Host == "" || to == "" {
		m.logger.Debug("mail skipped", zap.String("to", to), zap.String("subject", subject))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := []byte(
		"From: " + m.cfg.Username + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := m.sendMail(addr, auth, m.cfg.Username, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
