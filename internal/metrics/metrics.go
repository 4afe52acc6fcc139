package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FilesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_files_ingested_total",
			Help: "Total number of archive files ingested",
		},
		[]string{"strategy"},
	)
	FilesIngestedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_files_ingested_errors_total",
			Help: "Total number of archive files that failed before any recording was produced",
		},
		[]string{"strategy"},
	)
	SegmentsTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_segments_transferred_total",
			Help: "Total number of recording segments transferred",
		},
		[]string{"strategy"},
	)
	SegmentsTransferredErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_segments_transferred_errors_total",
			Help: "Total number of recording segment transfers that failed",
		},
		[]string{"strategy"},
	)
	PaddingBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_padding_bytes_total",
			Help: "Total number of bytes credited to progress without belonging to a transferred segment",
		},
		[]string{"strategy"},
	)
	BytesTransferred = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_segment_bytes",
			Help:    "Size of transferred recording segments",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"strategy"},
	)
	PagesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_pages_detected_total",
			Help: "Total number of pages inferred from recording indexes",
		},
	)
	MalformedMetadataRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_malformed_metadata_records_total",
			Help: "Total number of warcinfo records skipped because their metadata could not be decoded",
		},
	)
)

func init() {
	prometheus.MustRegister(FilesIngested)
	prometheus.MustRegister(FilesIngestedErrors)
	prometheus.MustRegister(SegmentsTransferred)
	prometheus.MustRegister(SegmentsTransferredErrors)
	prometheus.MustRegister(PaddingBytes)
	prometheus.MustRegister(BytesTransferred)
	prometheus.MustRegister(PagesDetected)
	prometheus.MustRegister(MalformedMetadataRecords)
}
