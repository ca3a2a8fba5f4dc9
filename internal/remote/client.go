package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/vidface/internal/envelope"
	"github.com/andresmejia3/vidface/internal/metrics"
	"github.com/andresmejia3/vidface/internal/tracing"
	"github.com/andresmejia3/vidface/internal/types"
	"github.com/andresmejia3/vidface/internal/xerror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// errorSnippetLimit caps how much of a failed response body ends up in the error message.
const errorSnippetLimit = 1024

// Client talks to the video2frames and face services. One request at a time, no retries.
type Client struct {
	Video2FramesURL string
	FaceURL         string

	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a client. A zero timeout means requests wait as long as the
// service takes (or until ctx is cancelled).
func NewClient(video2framesURL, faceURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		Video2FramesURL: video2framesURL,
		FaceURL:         faceURL,
		http:            &http.Client{Timeout: timeout},
		logger:          logger,
	}
}

// RequestFrames sends the whole video and returns the extracted frames and metadata.
// A response without frames or metadata is a ProtocolError.
func (c *Client) RequestFrames(ctx context.Context, req types.VideoToFramesRequest) (*types.VideoToFramesResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "video2frames.request")
	defer span.End()
	span.SetAttributes(
		attribute.Int("video.bytes", len(req.Video)),
		attribute.Int("fps_max", req.FPSMax),
	)

	var resp types.VideoToFramesResponse
	if err := c.post(ctx, metrics.ServiceVideo2Frames, c.Video2FramesURL, req, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "video2frames request failed")
		return nil, err
	}

	if resp.Frames == nil {
		return nil, xerror.Newf(xerror.Protocol, "decode video2frames response", "missing %q key", "frames")
	}
	if resp.Metadata == nil {
		return nil, xerror.Newf(xerror.Protocol, "decode video2frames response", "missing %q key", "metadata")
	}
	if resp.Metadata.FrameIdxOriginal == nil {
		return nil, xerror.Newf(xerror.Protocol, "decode video2frames response", "missing %q key", "frame_idx_original")
	}

	span.SetAttributes(attribute.Int("frames", len(resp.Frames)))
	return &resp, nil
}

// RequestFaceAnalysis sends a single frame and returns the service's opaque result.
func (c *Client) RequestFaceAnalysis(ctx context.Context, frame []byte) (*types.FaceResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "face.request")
	defer span.End()
	span.SetAttributes(attribute.Int("image.bytes", len(frame)))

	var resp types.FaceResponse
	if err := c.post(ctx, metrics.ServiceFace, c.FaceURL, types.FaceRequest{Image: frame}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "face request failed")
		return nil, err
	}

	if len(resp.FaceDetectionRecognition) == 0 {
		return nil, xerror.Newf(xerror.Protocol, "decode face response", "missing %q key", "face_detection_recognition")
	}
	return &resp, nil
}

// post encodes payload, sends it and decodes the answer into out.
func (c *Client) post(ctx context.Context, service, url string, payload, out interface{}) error {
	body, err := envelope.Encode(payload)
	if err != nil {
		return xerror.New(xerror.Protocol, "encode "+service+" request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return xerror.New(xerror.Service, "build "+service+" request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending request",
		zap.String("service", service),
		zap.String("url", url),
		zap.Int("body_bytes", len(body)),
	)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.RequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(service, "transport_error").Inc()
		return xerror.New(xerror.Service, "POST "+url, err)
	}
	defer resp.Body.Close()

	c.logger.Info("Response received",
		zap.String("service", service),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RequestsTotal.WithLabelValues(service, "http_error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return xerror.Newf(xerror.Service, "POST "+url, "status %d: %s", resp.StatusCode, describeFailure(snippet))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(service, "transport_error").Inc()
		return xerror.New(xerror.Service, "read "+service+" response", err)
	}

	if err := envelope.Decode(data, out); err != nil {
		metrics.RequestsTotal.WithLabelValues(service, "protocol_error").Inc()
		return xerror.New(xerror.Protocol, "decode "+service+" response", err)
	}

	metrics.RequestsTotal.WithLabelValues(service, "ok").Inc()
	return nil
}

// describeFailure prefers the service's own {"error": "..."} message over the raw body.
func describeFailure(body []byte) string {
	var errorResult types.ErrorResult
	if err := envelope.Decode(body, &errorResult); err == nil && errorResult.Error != "" {
		return errorResult.Error
	}
	return strings.TrimSpace(string(body))
}
