package notifier

import (
	"errors"
	"testing"
	"time"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	notices     []Notice
	events      []OrderEvent
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendNotice(notice Notice) {
	m.notices = append(m.notices, notice)
}

func (m *mockNotifier) SendOrderEvent(event OrderEvent) {
	m.events = append(m.events, event)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, nil, mock2, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}

	// Should not panic
	mn.SendNotice(Notice{Message: "nobody listening"})
	mn.SendOrderEvent(OrderEvent{OrderID: "1"})
}

func TestMultiNotifier_SendNotice(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	notice := Notice{
		ID:        "n1",
		Kind:      "network_timeout",
		Op:        "refresh",
		Message:   "refresh timed out",
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
	}
	mn.SendNotice(notice)

	for i, m := range []*mockNotifier{mock1, mock2} {
		if len(m.notices) != 1 {
			t.Fatalf("notifier %d: expected 1 notice, got %d", i, len(m.notices))
		}
		if m.notices[0].ID != "n1" {
			t.Errorf("notifier %d: unexpected notice: %+v", i, m.notices[0])
		}
	}
}

func TestMultiNotifier_SendOrderEvent(t *testing.T) {
	mock := &mockNotifier{}
	mn := NewMultiNotifier(mock)

	mn.SendOrderEvent(OrderEvent{OrderID: "7", Status: "FILLED"})

	if len(mock.events) != 1 || mock.events[0].Status != "FILLED" {
		t.Errorf("unexpected events: %+v", mock.events)
	}
}

func TestMultiNotifier_Close(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{closeErr: errors.New("boom")}

	mn := NewMultiNotifier(mock1, mock2)
	err := mn.Close()

	if err == nil || err.Error() != "boom" {
		t.Errorf("expected boom error, got: %v", err)
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected all notifiers to be closed")
	}
}
