package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages accepted by the store",
	})
	ConversationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversations_created_total",
		Help: "Conversations created, by kind",
	}, []string{"kind"})
	NotificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notifications_published_total",
		Help: "Notifier publishes that succeeded, by event",
	}, []string{"event"})
	NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notification_failures_total",
		Help: "Notifier publishes that failed and were dropped after logging, by event",
	}, []string{"event"})
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(MessagesSent, ConversationsCreated, NotificationsPublished, NotificationFailures, WSConnections)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
