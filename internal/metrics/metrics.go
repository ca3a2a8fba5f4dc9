package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	ServiceVideo2Frames = "video2frames"
	ServiceFace         = "face"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidface_requests_total",
		Help: "Requests sent to remote services, by service and outcome",
	}, []string{"service", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidface_request_duration_seconds",
		Help:    "Round trip time of remote service requests",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"service"})

	FramesSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidface_frames_saved_total",
		Help: "Frames decoded and written as JPEG files",
	})

	FaceResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidface_face_results_total",
		Help: "Face analysis results written to disk",
	})
)

// Push sends the default registry to a Prometheus Pushgateway, grouped by run.
func Push(ctx context.Context, gatewayURL, runID string) error {
	return push.New(gatewayURL, "vidface").
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		PushContext(ctx)
}
