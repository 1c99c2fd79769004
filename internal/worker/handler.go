package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
)

// NotificationHandler turns checkout events into emails sent through the
// email service: confirmations to customers, incident alerts to operations.
type NotificationHandler struct {
	emailServiceURL string
	opsAlertEmail   string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL, opsAlertEmail string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		opsAlertEmail:   opsAlertEmail,
		httpClient:      client,
		logger:          logger,
	}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) HandleOrderConfirmed(ctx context.Context, payload []byte) error {
	var event domain.OrderConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order confirmed event: %w", err))
	}

	h.logger.InfoContext(ctx, "processing order confirmed event", "order_number", event.OrderNumber, "user_id", event.UserID)

	if event.CustomerEmail == "" {
		h.logger.WarnContext(ctx, "order has no customer email, skipping confirmation", "order_number", event.OrderNumber)
		return nil
	}

	if err := h.sendEmail(ctx, confirmationEmail(event)); err != nil {
		h.logger.ErrorContext(ctx, "failed to send confirmation email", "error", err, "order_number", event.OrderNumber)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.InfoContext(ctx, "confirmation email sent", "order_number", event.OrderNumber)
	return nil
}

func (h *NotificationHandler) HandlePaymentIncident(ctx context.Context, payload []byte) error {
	var event domain.PaymentIncidentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal payment incident event: %w", err))
	}

	inc := event.Incident
	h.logger.InfoContext(ctx, "processing payment incident event", "order_number", inc.OrderNumber, "kind", inc.Kind)

	if err := h.sendEmail(ctx, h.incidentAlert(inc)); err != nil {
		h.logger.ErrorContext(ctx, "failed to send incident alert", "error", err, "order_number", inc.OrderNumber)
		return fmt.Errorf("send incident alert: %w", err)
	}

	h.logger.InfoContext(ctx, "incident alert sent", "order_number", inc.OrderNumber, "to", h.opsAlertEmail)
	return nil
}

func confirmationEmail(event domain.OrderConfirmedEvent) emailRequest {
	var b strings.Builder
	name := event.CustomerName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nYour order %s has been confirmed.\n\n", name, event.OrderNumber)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "- %d x %s: %s %s\n", item.Quantity, item.VariantID, formatAmount(item.LineTotal), event.Currency)
	}
	fmt.Fprintf(&b, "\nTotal: %s %s\n", formatAmount(event.Total), event.Currency)

	return emailRequest{
		To:      event.CustomerEmail,
		Subject: "Order Confirmation: " + event.OrderNumber,
		Body:    b.String(),
	}
}

func (h *NotificationHandler) incidentAlert(inc domain.Incident) emailRequest {
	body := fmt.Sprintf(
		"Payment incident %s (%s)\n\nOrder: %s\nUser: %s\nTransaction: %s\nAmount: %s\nDetail: %s\n\nThe payment was captured but no order was created. Refund or reconstruct the order.",
		inc.ID, inc.Kind, inc.OrderNumber, inc.UserID, inc.TransactionID, formatAmount(inc.Amount), inc.Detail,
	)

	return emailRequest{
		To:      h.opsAlertEmail,
		Subject: fmt.Sprintf("[ALERT] %s: %s", inc.Kind, inc.OrderNumber),
		Body:    body,
	}
}

// formatAmount renders minor units with two decimals.
func formatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func (h *NotificationHandler) sendEmail(ctx context.Context, email emailRequest) error {
	data, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		return messaging.Permanent(fmt.Errorf("email service rejected message for %s", email.To))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
