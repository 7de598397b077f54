package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// CountingHook counts warnings and errors per component so that alerting can
// watch log volume without parsing logs.
type CountingHook struct {
	messages *prometheus.CounterVec
}

func NewCountingHook(reg prometheus.Registerer) (*CountingHook, error) {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "log_messages_total",
		Help:      "Warning and error log entries, by level and component.",
	}, []string{"level", "component"})
	if err := reg.Register(messages); err != nil {
		return nil, err
	}
	return &CountingHook{messages: messages}, nil
}

func (h *CountingHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *CountingHook) Fire(entry *logrus.Entry) error {
	component, _ := entry.Data["component"].(string)
	if component == "" {
		component = "none"
	}
	h.messages.WithLabelValues(entry.Level.String(), component).Inc()
	return nil
}
