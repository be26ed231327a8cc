package notifier

import (
	"time"
)

// Severity ranks a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a transient, dismissable message about a user-initiated action.
type Notice struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // apperr kind, empty for informational notices
	Op        string    `json:"op"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent reports a grid order status transition.
type OrderEvent struct {
	OrderID   string
	Item      string
	Side      string // BUY or SELL
	Price     string
	Size      string
	Status    string // new status
	Timestamp time.Time
}

// Notifier is the interface for forwarding notices to external channels.
type Notifier interface {
	// SendNotice forwards a notice.
	SendNotice(notice Notice)

	// SendOrderEvent forwards an order status transition.
	SendOrderEvent(event OrderEvent)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendNotice sends the notice to all registered notifiers.
func (m *MultiNotifier) SendNotice(notice Notice) {
	for _, n := range m.notifiers {
		n.SendNotice(notice)
	}
}

// SendOrderEvent sends the event to all registered notifiers.
func (m *MultiNotifier) SendOrderEvent(event OrderEvent) {
	for _, n := range m.notifiers {
		n.SendOrderEvent(event)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
