package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Notifier recebe a confirmação de uma compra concluída
type Notifier interface {
	PurchaseConfirmed(ctx context.Context, c PurchaseConfirmation) error
}

// PurchaseConfirmation is everything a downstream channel needs to tell the user about a purchase.
type PurchaseConfirmation struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	OrderID      string    `json:"order_id"`
	PaymentID    string    `json:"payment_id"`
	ProductName  string    `json:"product_name"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	PurchaseDate time.Time `json:"purchase_date"`
}

func confirmationFromOrder(o *Order) PurchaseConfirmation {
	c := PurchaseConfirmation{
		UserID:      o.UserID,
		Email:       o.UserEmail,
		Name:        o.UserName,
		OrderID:     o.ID,
		PaymentID:   o.PaymentID,
		ProductName: o.ProductName,
		Amount:      o.Amount,
		Currency:    o.Currency,
	}
	if o.CompletedAt != nil {
		c.PurchaseDate = *o.CompletedAt
	}
	return c
}

type noopNotifier struct{}

func (noopNotifier) PurchaseConfirmed(context.Context, PurchaseConfirmation) error { return nil }

// multiNotifier entrega para todos os canais e junta os erros
type multiNotifier []Notifier

func (m multiNotifier) PurchaseConfirmed(ctx context.Context, c PurchaseConfirmation) error {
	var errs []error
	for _, n := range m {
		if err := n.PurchaseConfirmed(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmailNotifier sends the HTML payment confirmation over SMTP.
type EmailNotifier struct {
	cfg    EmailConfig
	logger *zap.Logger
}

func NewEmailNotifier(cfg EmailConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

func (n *EmailNotifier) PurchaseConfirmed(ctx context.Context, c PurchaseConfirmation) error {
	if c.Email == "" {
		n.logger.Info("📧 No email address available for user - skipping email", zap.String("user_id", c.UserID))
		return nil
	}

	msg, err := n.buildMessage(c)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	n.logger.Info("✅ Payment confirmation email sent", zap.String("order_id", c.OrderID))
	return nil
}

func (n *EmailNotifier) buildMessage(c PurchaseConfirmation) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(n.cfg.FromName, n.cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("email from: %w", err)
	}
	if err := msg.To(c.Email); err != nil {
		return nil, fmt.Errorf("email to: %w", err)
	}
	msg.Subject(fmt.Sprintf("🎉 Payment Successful - Welcome to %s!", c.ProductName))

	body, err := renderConfirmationEmail(c)
	if err != nil {
		return nil, err
	}
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Payment Confirmation</title></head>
<body style="font-family: 'Segoe UI', Tahoma, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h1>Payment Successful</h1>
  <p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
  <p>Thank you for purchasing <strong>{{.ProductName}}</strong>.</p>
  <table>
    <tr><td>Amount</td><td>{{.Amount}}</td></tr>
    <tr><td>Payment ID</td><td>{{.PaymentID}}</td></tr>
    <tr><td>Order ID</td><td>{{.OrderID}}</td></tr>
    <tr><td>Date</td><td>{{.Date}}</td></tr>
  </table>
</body>
</html>`))

func renderConfirmationEmail(c PurchaseConfirmation) (string, error) {
	var buf bytes.Buffer
	err := confirmationTemplate.Execute(&buf, struct {
		Name        string
		ProductName string
		Amount      string
		PaymentID   string
		OrderID     string
		Date        string
	}{
		Name:        c.Name,
		ProductName: c.ProductName,
		Amount:      formatMinorUnits(c.Amount, c.Currency),
		PaymentID:   c.PaymentID,
		OrderID:     c.OrderID,
		Date:        c.PurchaseDate.Format("02 Jan 2006, 15:04 MST"),
	})
	if err != nil {
		return "", fmt.Errorf("render confirmation email: %w", err)
	}
	return buf.String(), nil
}

// currencyExponents lists ISO 4217 currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0, "PYG": 0,
	"RWF": 0, "UGX": 0, "UYI": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

func currencyExponent(currency string) int {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// formatMinorUnits renders 12345 INR as "INR 123.45" and 500 JPY as "JPY 500".
func formatMinorUnits(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	exp := currencyExponent(currency)
	if exp == 0 {
		return fmt.Sprintf("%s %s%d", currency, sign, amount)
	}

	unit := int64(1)
	for i := 0; i < exp; i++ {
		unit *= 10
	}
	return fmt.Sprintf("%s %s%d.%0*d", currency, sign, amount/unit, exp, amount%unit)
}

// KafkaNotifier publica o evento purchase.completed
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// newKafkaProducer connects a synchronous producer that waits for all in-sync replicas.
func newKafkaProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = "payments-service"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = cfg.Timeout
	config.Net.DialTimeout = cfg.Timeout
	config.Net.ReadTimeout = cfg.Timeout
	config.Net.WriteTimeout = cfg.Timeout

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

type purchaseEvent struct {
	EventID    string               `json:"event_id"`
	EventType  string               `json:"event_type"`
	OccurredAt time.Time            `json:"occurred_at"`
	Data       PurchaseConfirmation `json:"data"`
}

func (k *KafkaNotifier) PurchaseConfirmed(ctx context.Context, c PurchaseConfirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(purchaseEvent{
		EventID:    uuid.NewString(),
		EventType:  "purchase.completed",
		OccurredAt: c.PurchaseDate,
		Data:       c,
	})
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(c.OrderID),
		Value: sarama.ByteEncoder(payload),
	}

	// SendMessage does not take a context; the caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() {
		_, _, err := k.producer.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish purchase event: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish purchase event: %w", ctx.Err())
	}
}

func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}
