// internal/app/pulse_writer.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/metrics"
)

var ErrInvalidCollection = fmt.Errorf("invalid collection event")

// PulseWriter applies collection events to the section pulse of their day.
// It is called synchronously by the ingestion path after a collection insert.
type PulseWriter struct {
	store   pulse.Store
	logger  *logrus.Entry
	metrics *metrics.Metrics
}

func NewPulseWriter(store pulse.Store, logger *logrus.Entry, m *metrics.Metrics) *PulseWriter {
	return &PulseWriter{
		store:   store,
		logger:  logger.WithField("component", "pulse_writer"),
		metrics: m,
	}
}

// RecordCollection upserts the pulse for (societyID, date(eventTime)) and
// returns the stored row. Storage errors are returned so the caller can retry.
func (w *PulseWriter) RecordCollection(ctx context.Context, t tenant.Tenant, societyID int64, eventTime time.Time) (*pulse.Pulse, error) {
	if societyID <= 0 || eventTime.IsZero() {
		w.metrics.RecordCollection(metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: society %d at %v", ErrInvalidCollection, societyID, eventTime)
	}

	date := pulse.DateOf(eventTime, t.Loc())
	log := w.logger.WithFields(logrus.Fields{
		"tenant":     t.String(),
		"society_id": societyID,
		"pulse_date": date.Format("2006-01-02"),
	})

	p, _, err := w.store.Apply(ctx, t.Schema, societyID, date, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
		return pulse.ApplyCollection(cur, societyID, date, eventTime), nil
	})
	if err != nil {
		w.metrics.RecordCollection(metrics.ResultFailed)
		log.WithError(err).Error("Failed to record collection on section pulse")
		return nil, fmt.Errorf("failed to record collection for society %d: %w", societyID, err)
	}

	w.metrics.RecordCollection(metrics.ResultOK)
	log.WithFields(logrus.Fields{
		"total_collections": p.TotalCollections,
		"event_time":        eventTime,
	}).Debug("Collection recorded")
	return p, nil
}
