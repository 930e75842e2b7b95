package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
)

// ReceiptMessage is one provider receipt inside a queued batch.
type ReceiptMessage struct {
	ProviderMessageID string    `json:"providerMessageId"`
	AppointmentID     string    `json:"appointmentId,omitempty"`
	Status            string    `json:"status"`
	ReportedAt        time.Time `json:"reportedAt"`
}

func (m ReceiptMessage) Outcome() (domain.DeliveryOutcome, error) {
	status, err := domain.ParseDeliveryStatusFromString(m.Status)
	if err != nil {
		return domain.DeliveryOutcome{}, err
	}
	outcome := domain.DeliveryOutcome{
		AppointmentID:     strings.TrimSpace(m.AppointmentID),
		ProviderMessageID: strings.TrimSpace(m.ProviderMessageID),
		Status:            status,
		ReportedAt:        m.ReportedAt.UTC(),
	}
	if err := outcome.Validate(); err != nil {
		return domain.DeliveryOutcome{}, err
	}
	return outcome, nil
}

// DecodeReceipts parses a JSON array of receipts. Any malformed element makes
// the whole message malformed, since a batch is applied all-or-nothing.
func DecodeReceipts(body []byte) ([]domain.DeliveryOutcome, error) {
	var msgs []ReceiptMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("%w: invalid receipt batch: %v", domain.ErrValidation, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: receipt batch is empty", domain.ErrValidation)
	}

	outcomes := make([]domain.DeliveryOutcome, 0, len(msgs))
	for i, m := range msgs {
		outcome, err := m.Outcome()
		if err != nil {
			return nil, fmt.Errorf("receipt %d: %w", i, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
