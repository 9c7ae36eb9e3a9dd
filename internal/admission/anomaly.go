package admission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/email"
)

const alertWindow = 24 * time.Hour

// AdminDirectory lists who is notified about suspicious key use.
type AdminDirectory interface {
	ActiveAdminEmails(ctx context.Context) ([]string, error)
}

// AnomalyDetector alerts administrators when one key is used from more than
// one host within a day. At most one alert is sent per client per day.
type AnomalyDetector struct {
	clients ClientStore
	logs    AccessLogStore
	admins  AdminDirectory
	mailer  email.Sender
}

func NewAnomalyDetector(clients ClientStore, logs AccessLogStore, admins AdminDirectory, mailer email.Sender) *AnomalyDetector {
	return &AnomalyDetector{clients: clients, logs: logs, admins: admins, mailer: mailer}
}

// Check inspects the trailing day of access for client and sends an alert
// when warranted.
func (d *AnomalyDetector) Check(ctx context.Context, client *Client, now time.Time) error {
	hosts, err := d.logs.DistinctHostsSince(ctx, client.ID, now.Add(-alertWindow))
	if err != nil {
		return fmt.Errorf("failed to load distinct hosts: %w", err)
	}
	if len(hosts) <= 1 {
		return nil
	}
	if client.LastAccessAlertAt != nil && now.Sub(*client.LastAccessAlertAt) < alertWindow {
		return nil
	}

	recipients, err := d.admins.ActiveAdminEmails(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admin recipients: %w", err)
	}
	if len(recipients) > 0 {
		if err := d.mailer.Send(ctx, alertMessage(client, hosts, recipients)); err != nil {
			return fmt.Errorf("failed to send access alert: %w", err)
		}
	}

	if err := d.clients.MarkClientAlerted(ctx, client.ID, now); err != nil {
		return fmt.Errorf("failed to stamp alert time: %w", err)
	}
	client.LastAccessAlertAt = &now
	log.Warn().
		Str("event", "api_client_access_alert").
		Str("clientId", client.ID).
		Strs("hosts", hosts).
		Int("recipients", len(recipients)).
		Msg("api key used from multiple hosts")
	return nil
}

func alertMessage(client *Client, hosts, recipients []string) email.Message {
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "API client %q was used from %d different hosts in the last 24 hours.\n\n", client.Name, len(sorted))
	fmt.Fprintf(&b, "Client id: %s\n", client.ID)
	fmt.Fprintf(&b, "Plan: %s\n", client.Plan)
	fmt.Fprintf(&b, "Status: %s\n", client.Status)
	fmt.Fprintf(&b, "Hosts: %s\n", strings.Join(sorted, ", "))
	return email.Message{
		To:      recipients,
		Subject: fmt.Sprintf("API key for %s used from multiple hosts", client.Name),
		Text:    b.String(),
	}
}
