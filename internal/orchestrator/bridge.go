package orchestrator

import (
	"time"

	"github.com/scrollverse/sentinel/internal/fraud"
	"github.com/scrollverse/sentinel/internal/realtime"
	"github.com/scrollverse/sentinel/internal/threats"
)

// Bridge forwards engine events onto the WebSocket hub. Event data is
// flattened to maps so hub subscription filters (userId, riskScore, severity)
// can inspect it.
type Bridge struct {
	hub *realtime.Hub
}

// NewBridge creates a bridge onto the given hub. Attach it with
// AlertManager.WithNotifier and Publisher.Subscribe.
func NewBridge(hub *realtime.Hub) *Bridge {
	return &Bridge{hub: hub}
}

// NotifyAlert implements fraud.Notifier.
func (b *Bridge) NotifyAlert(a *fraud.FraudAlert) {
	b.hub.Broadcast(&realtime.Event{
		Type:     realtime.EventFraudAlert,
		Severity: string(a.Severity),
		Data: map[string]any{
			"alertId":       a.ID,
			"transactionId": a.TransactionID,
			"userId":        a.UserID,
			"severity":      string(a.Severity),
			"riskScore":     a.RiskScoreAtDetection,
			"reason":        string(a.Reason),
		},
	})
}

// ThreatEvent implements threats.Subscriber.
func (b *Bridge) ThreatEvent(e threats.Event) {
	eventType := realtime.EventThreatDetected
	if e.Type == threats.EventStatusChanged {
		eventType = realtime.EventThreatUpdated
	}
	b.hub.Broadcast(&realtime.Event{
		Type:      eventType,
		Severity:  string(e.Threat.Severity),
		Timestamp: e.At,
		Data: map[string]any{
			"threatId": e.Threat.ID,
			"type":     string(e.Threat.Type),
			"source":   e.Threat.Source,
			"severity": string(e.Threat.Severity),
			"status":   string(e.Threat.Status),
		},
	})
}

var _ fraud.Notifier = (*Bridge)(nil)

// NotifyIncident pushes incident lifecycle changes to the hub.
func (b *Bridge) NotifyIncident(inc *Incident) {
	b.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventIncident,
		Severity:  string(inc.Severity),
		Timestamp: time.Now(),
		Data: map[string]any{
			"incidentId": inc.ID,
			"title":      inc.Title,
			"severity":   string(inc.Severity),
			"status":     string(inc.Status),
		},
	})
}
