package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Current number of active WebSocket connections",
	})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Total number of messages sent to clients",
	}, []string{"keyword"})
	// CollectionActivity tracks how many decoded records have been seen
	// per collection since process start.
	CollectionActivity = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_records_total",
		Help: "Total number of decoded records seen per collection",
	}, []string{"collection"})
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_received_total",
		Help: "Total number of messages received from the firehose",
	})
	FiltersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filters_created_total",
		Help: "Total number of filters created",
	})
	FiltersDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filters_deleted_total",
		Help: "Total number of filters deleted",
	})

	RepoBlocksRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repo_blocks_read_total",
		Help: "Total number of CAR blocks drained into a block store",
	})
	RepoMSTNodesVisited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repo_mst_nodes_visited_total",
		Help: "Total number of MST nodes visited during tree walks",
	})
	RepoRecordsYielded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repo_records_yielded_total",
		Help: "Total number of records yielded by the record iterator",
	})
	RepoDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repo_decode_errors_total",
		Help: "Total number of repository decode errors by kind",
	}, []string{"kind"})
	RepoMSTWalkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "repo_mst_walk_duration_seconds",
		Help:    "Duration of a full MST walk",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		WebsocketConnections,
		MessagesSent,
		CollectionActivity,
		MessagesReceived,
		FiltersCreated,
		FiltersDeleted,
		RepoBlocksRead,
		RepoMSTNodesVisited,
		RepoRecordsYielded,
		RepoDecodeErrors,
		RepoMSTWalkDuration,
	)
}
