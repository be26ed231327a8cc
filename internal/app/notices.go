package app

import (
	"errors"
	"sort"
	"time"

	"gridwatch/clients/notifier"
	"gridwatch/internal/apperr"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// NoticeBoard holds transient notices for user-initiated failures. Notices
// expire after the configured TTL or when dismissed.
type NoticeBoard struct {
	logger   *zap.Logger
	items    *cache.Cache
	notifier notifier.Notifier
	metrics  *Metrics
	now      func() time.Time
}

func NewNoticeBoard(logger *zap.Logger, ttl time.Duration, n notifier.Notifier, metrics *Metrics) *NoticeBoard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &NoticeBoard{
		logger:   logger.Named("notices"),
		items:    cache.New(ttl, 2*ttl),
		notifier: n,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Surface turns err into a notice and returns it. Nil errors and errors that
// are absorbed locally, like storage failures, produce nothing.
func (b *NoticeBoard) Surface(op string, err error) *notifier.Notice {
	if !apperr.Surfaced(err) {
		if err != nil {
			b.logger.Debug("absorbed error", zap.String("op", op), zap.Error(err))
		}
		return nil
	}
	kind := apperr.KindOf(err)
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		msg = appErr.Err.Error()
	}
	return b.add(notifier.Notice{
		Kind:     string(kind),
		Op:       op,
		Message:  msg,
		Severity: severityFor(kind),
	})
}

// Info posts an informational notice.
func (b *NoticeBoard) Info(op, message string) *notifier.Notice {
	return b.add(notifier.Notice{Op: op, Message: message, Severity: notifier.SeverityInfo})
}

// List returns live notices, oldest first.
func (b *NoticeBoard) List() []notifier.Notice {
	items := b.items.Items()
	out := make([]notifier.Notice, 0, len(items))
	for _, item := range items {
		if n, ok := item.Object.(notifier.Notice); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (b *NoticeBoard) Dismiss(id string) bool {
	if _, ok := b.items.Get(id); !ok {
		return false
	}
	b.items.Delete(id)
	return true
}

func (b *NoticeBoard) Len() int {
	return b.items.ItemCount()
}

func (b *NoticeBoard) add(n notifier.Notice) *notifier.Notice {
	n.ID = uuid.NewString()
	n.Timestamp = b.now()
	b.items.Set(n.ID, n, cache.DefaultExpiration)
	b.metrics.ObserveNotice(n.Kind)

	b.logger.Info("notice",
		zap.String("op", n.Op),
		zap.String("kind", n.Kind),
		zap.String("message", n.Message),
	)
	if b.notifier != nil && n.Severity != notifier.SeverityInfo {
		b.notifier.SendNotice(n)
	}
	return &n
}

func severityFor(kind apperr.Kind) notifier.Severity {
	switch kind {
	case apperr.KindThrottled:
		return notifier.SeverityInfo
	case apperr.KindValidation, apperr.KindNetwork, apperr.KindNetworkTimeout:
		return notifier.SeverityWarning
	default:
		return notifier.SeverityError
	}
}
