package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pma_api"

var (
	DatasetUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dataset_uploads_total",
		Help:      "Dataset uploads by result (ok, duplicate, empty, error).",
	}, []string{"result"})

	DatasetUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dataset_upload_bytes",
		Help:      "Size of committed dataset payloads.",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
	})

	DatasetMaterializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dataset_materializations_total",
		Help:      "Dataset materializations by result.",
	}, []string{"result"})

	BackupOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_operations_total",
		Help:      "Backup and restore runs by kind, destination and final state.",
	}, []string{"kind", "destination", "state"})

	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_operation_duration_seconds",
		Help:      "Duration of backup and restore runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	BackupArtifactBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_last_artifact_bytes",
		Help:      "Size of the most recently stored backup artifact.",
	})

	TaskProgressUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_progress_updates_total",
		Help:      "Progress records forwarded by task reporters.",
	})

	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task state transitions by target state.",
	}, []string{"state"})

	DatasetsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "datasets_stored",
		Help:      "Number of dataset rows in the store.",
	})

	BackupArtifactsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_artifacts_stored",
		Help:      "Number of backup artifacts at the configured destination.",
	})

	DatabaseSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_size_bytes",
		Help:      "Size of the database file on disk.",
	})
)
