package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

// TeamsNotifier posts a MessageCard to a Teams incoming webhook.
type TeamsNotifier struct {
	url        string
	httpClient *http.Client
}

func NewTeamsNotifier(url string) *TeamsNotifier {
	return &TeamsNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *TeamsNotifier) Name() string { return "teams" }

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor"`
	Sections   []teamsSection `json:"sections"`
}

func (n *TeamsNotifier) Notify(ctx context.Context, ev domain.LifecycleEvent) error {
	body, err := json.Marshal(buildTeamsCard(ev))
	if err != nil {
		return fmt.Errorf("TeamsNotifier.Notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("TeamsNotifier.Notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("TeamsNotifier.Notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("TeamsNotifier.Notify: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildTeamsCard(ev domain.LifecycleEvent) teamsCard {
	facts := []teamsFact{
		{Name: "Payment", Value: ev.PaymentID.String()},
		{Name: "Tenant", Value: ev.TenantID.String()},
		{Name: "Invoice", Value: ev.InvoiceID.String()},
		{Name: "Method", Value: string(ev.Method)},
		{Name: "Amount", Value: domain.FormatAmount(ev.Amount, ev.Currency)},
		{Name: "Status", Value: string(ev.Status)},
	}
	if ev.Actor != "" {
		facts = append(facts, teamsFact{Name: "Actor", Value: ev.Actor})
	}
	if ev.Reason != "" {
		facts = append(facts, teamsFact{Name: "Reason", Value: ev.Reason})
	}

	return teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    fmt.Sprintf("Payment %s", ev.Type),
		ThemeColor: themeColor(ev.Status),
		Sections: []teamsSection{{
			ActivityTitle: fmt.Sprintf("Payment %s", ev.Type),
			Facts:         facts,
		}},
	}
}

func themeColor(s domain.PaymentStatus) string {
	switch s {
	case domain.PaymentStatusApproved:
		return "2EB886"
	case domain.PaymentStatusRejected, domain.PaymentStatusFailed:
		return "D93F0B"
	case domain.PaymentStatusExpired:
		return "A0A0A0"
	default:
		return "0076D7"
	}
}
