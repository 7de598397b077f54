// Package collectionfeed applies collection events announced through
// PostgreSQL NOTIFY on a configurable channel. The ingestion side sends
//
//	pg_notify('<channel>', json_build_object('schema', ..., 'society_id', ..., 'collected_at', ...)::text)
//
// after each milk_collections insert. collected_at may be a timestamptz, or a
// timestamp without time zone, which is read in the tenant's timezone.
package collectionfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/metrics"
)

var ErrInvalidPayload = fmt.Errorf("invalid collection feed payload")

// keepalive is how often an idle listener pings its connection.
const keepalive = 90 * time.Second

// Writer is the pulse write path fed by notifications.
type Writer interface {
	RecordCollection(ctx context.Context, t tenant.Tenant, societyID int64, eventTime time.Time) (*pulse.Pulse, error)
}

// Payload is one notification body.
type Payload struct {
	Schema      string `json:"schema"`
	SocietyID   int64  `json:"society_id"`
	CollectedAt string `json:"collected_at"`
}

// Layouts Postgres uses when a timestamp column is rendered to JSON or text.
var zonedLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05.999999999Z07"}
var localLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"}

// EventTime parses CollectedAt. Values without a zone offset are read in loc.
func (p Payload) EventTime(loc *time.Location) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, p.CollectedAt); err == nil {
			return t, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, p.CollectedAt, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised collected_at %q", ErrInvalidPayload, p.CollectedAt)
}

func ParsePayload(extra string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch {
	case p.Schema == "":
		return Payload{}, fmt.Errorf("%w: missing schema", ErrInvalidPayload)
	case p.SocietyID <= 0:
		return Payload{}, fmt.Errorf("%w: society_id must be positive", ErrInvalidPayload)
	case p.CollectedAt == "":
		return Payload{}, fmt.Errorf("%w: missing collected_at", ErrInvalidPayload)
	}
	if _, err := p.EventTime(time.UTC); err != nil {
		return Payload{}, err
	}
	return p, nil
}

type Listener struct {
	dsn       string
	channel   string
	directory tenant.Directory
	writer    Writer
	clock     quartz.Clock
	logger    *logrus.Entry
	metrics   *metrics.Metrics
}

func NewListener(dsn, channel string, directory tenant.Directory, writer Writer, clock quartz.Clock, logger *logrus.Entry, m *metrics.Metrics) *Listener {
	return &Listener{
		dsn:       dsn,
		channel:   channel,
		directory: directory,
		writer:    writer,
		clock:     clock,
		logger:    logger.WithFields(logrus.Fields{"component": "collection_feed", "channel": channel}),
		metrics:   m,
	}
}

// Run listens on the channel until ctx is done. pq reconnects on its own;
// Run only returns early if the channel cannot be subscribed.
func (l *Listener) Run(ctx context.Context) error {
	pql := pq.NewListener(l.dsn, time.Second, time.Minute, l.onConnectionEvent)
	defer pql.Close()

	if err := pql.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to listen on %q: %w", l.channel, err)
	}
	l.logger.Info("Collection feed listening")
	return l.consume(ctx, pql.Notify, pql.Ping)
}

func (l *Listener) consume(ctx context.Context, notify <-chan *pq.Notification, ping func() error) error {
	ticker := l.clock.NewTicker(keepalive, "collectionfeed", "keepalive")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Collection feed stopped")
			return nil
		case <-ticker.C:
			if err := ping(); err != nil {
				l.logger.WithError(err).Warn("Collection feed connection ping failed")
			}
		case n, ok := <-notify:
			if !ok {
				return errors.New("collection feed notification channel closed")
			}
			// nil is sent after a reconnect; anything notified while
			// disconnected is lost.
			if n == nil {
				l.logger.Warn("Collection feed reconnected, notifications may have been missed")
				continue
			}
			_ = l.Handle(ctx, n.Extra)
		}
	}
}

// Handle applies one notification payload. Errors are logged and counted
// here since there is no caller to return them to; the return value is for
// tests.
func (l *Listener) Handle(ctx context.Context, extra string) error {
	p, err := ParsePayload(extra)
	if err != nil {
		l.metrics.RecordFeedNotification(metrics.ResultInvalid)
		l.logger.WithError(err).WithField("payload", extra).Warn("Dropping collection feed notification")
		return err
	}
	log := l.logger.WithFields(logrus.Fields{
		"tenant":     p.Schema,
		"society_id": p.SocietyID,
	})

	t, err := l.directory.Lookup(ctx, tenant.SchemaRef(p.Schema))
	if err != nil {
		l.metrics.RecordFeedNotification(metrics.ResultFailed)
		log.WithError(err).Warn("Collection feed notification for unknown tenant")
		return fmt.Errorf("failed to resolve tenant %q: %w", p.Schema, err)
	}
	eventTime, err := p.EventTime(t.Loc())
	if err != nil {
		l.metrics.RecordFeedNotification(metrics.ResultInvalid)
		log.WithError(err).Warn("Dropping collection feed notification")
		return err
	}
	if _, err := l.writer.RecordCollection(ctx, t, p.SocietyID, eventTime); err != nil {
		l.metrics.RecordFeedNotification(metrics.ResultFailed)
		log.WithError(err).Error("Collection feed notification could not be applied")
		return err
	}
	l.metrics.RecordFeedNotification(metrics.ResultOK)
	return nil
}

func (l *Listener) onConnectionEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.logger.Debug("Collection feed connected")
	case pq.ListenerEventReconnected:
		l.logger.Info("Collection feed reconnected")
	case pq.ListenerEventDisconnected:
		l.logger.WithError(err).Warn("Collection feed disconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.WithError(err).Warn("Collection feed could not connect")
	}
}
