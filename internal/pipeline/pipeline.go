// Package pipeline runs one video through the frame extraction and face analysis services
// and persists everything they return.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"

	// Frame decoders. video2frames sends JPEG, the rest are accepted and re-encoded.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/vidface/internal/config"
	"github.com/andresmejia3/vidface/internal/facefile"
	"github.com/andresmejia3/vidface/internal/metrics"
	"github.com/andresmejia3/vidface/internal/storage"
	"github.com/andresmejia3/vidface/internal/tracing"
	"github.com/andresmejia3/vidface/internal/types"
	"github.com/andresmejia3/vidface/internal/utils"
	"github.com/andresmejia3/vidface/internal/xerror"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Services is the pair of remote collaborators. *remote.Client implements it.
type Services interface {
	RequestFrames(ctx context.Context, req types.VideoToFramesRequest) (*types.VideoToFramesResponse, error)
	RequestFaceAnalysis(ctx context.Context, frame []byte) (*types.FaceResponse, error)
}

// Recorder indexes runs and their outputs. *store.Store implements it.
type Recorder interface {
	StartRun(ctx context.Context, runID uuid.UUID, videoPath, saveDir string) error
	RecordMetadata(ctx context.Context, runID uuid.UUID, metadata []byte) error
	RecordFrame(ctx context.Context, runID uuid.UUID, frameIdx int, imagePath, facePath string, faceResult []byte) error
	FinishRun(ctx context.Context, runID uuid.UUID, runErr error) error
}

// Progress is the subset of *progressbar.ProgressBar the runner drives.
type Progress interface {
	Add(n int) error
	Finish() error
}

// Runner executes a single pipeline run. It is not safe for concurrent use.
type Runner struct {
	cfg      *config.PipelineConfig
	services Services
	sink     storage.Sink
	fs       afero.Fs
	logger   *zap.Logger

	recorder    Recorder
	newProgress func(total int) Progress
	runID       uuid.UUID
}

type Option func(*Runner)

// WithRecorder indexes the run in r. Recorder failures are logged, never fatal.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) { rn.recorder = r }
}

// WithProgress reports per-frame progress through the bars newBar creates.
func WithProgress(newBar func(total int) Progress) Option {
	return func(rn *Runner) { rn.newProgress = newBar }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id uuid.UUID) Option {
	return func(rn *Runner) { rn.runID = id }
}

// NewRunner wires a run. The video is read from fs and every output goes to sink.
func NewRunner(cfg *config.PipelineConfig, services Services, sink storage.Sink, fs afero.Fs, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:         cfg,
		services:    services,
		sink:        sink,
		fs:          fs,
		logger:      logger,
		recorder:    NopRecorder{},
		newProgress: func(int) Progress { return nopProgress{} },
		runID:       uuid.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID identifies this run in logs, traces, metrics and the run index.
func (r *Runner) RunID() uuid.UUID {
	return r.runID
}

// Run executes Init → FetchFrames → PersistMetadata → per frame (DecodeSave → FetchFace →
// PersistFace) → Done. The first failure aborts the run; files already written stay.
func (r *Runner) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", r.runID.String()),
		attribute.String("video.path", r.cfg.VideoPath),
	)

	log := r.logger.With(zap.String("run_id", r.runID.String()))
	log.Info("Starting pipeline",
		zap.String("video_path", r.cfg.VideoPath),
		zap.String("url_video2frames", r.cfg.Video2FramesURL),
		zap.String("url_face", r.cfg.FaceURL),
		zap.Int("width_max", r.cfg.WidthMax),
		zap.Int("height_max", r.cfg.HeightMax),
		zap.Int("fps_max", r.cfg.FPSMax),
		zap.String("save_dir", r.cfg.SaveDir),
	)

	if recErr := r.recorder.StartRun(ctx, r.runID, r.cfg.VideoPath, r.cfg.SaveDir); recErr != nil {
		log.Warn("Failed to index run", zap.Error(recErr))
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(xerror.KindOf(err)))
			log.Error("Pipeline aborted", zap.Error(err))
		}
		// Background: the run context may already be cancelled.
		if recErr := r.recorder.FinishRun(context.Background(), r.runID, err); recErr != nil {
			log.Warn("Failed to close run in index", zap.Error(recErr))
		}
	}()

	// 1. Init
	video, err := afero.ReadFile(r.fs, r.cfg.VideoPath)
	if err != nil {
		return xerror.New(xerror.FileAccess, "read video "+r.cfg.VideoPath, err)
	}
	log.Debug("Video loaded", zap.Int("bytes", len(video)))

	// 2. FetchFrames
	resp, err := r.services.RequestFrames(ctx, types.VideoToFramesRequest{
		FPSMax:    r.cfg.FPSMax,
		WidthMax:  r.cfg.WidthMax,
		HeightMax: r.cfg.HeightMax,
		Video:     video,
	})
	if err != nil {
		return err
	}
	if resp.Metadata == nil {
		return xerror.Newf(xerror.Protocol, "check video2frames response", "missing %q key", "metadata")
	}
	if resp.Metadata.FrameIdxOriginal == nil {
		return xerror.Newf(xerror.Protocol, "check video2frames response", "missing %q key", "frame_idx_original")
	}

	// 3. PersistMetadata, then the length check
	base := utils.VideoBaseName(r.cfg.VideoPath)
	if err := r.persistMetadata(ctx, log, base, resp.Metadata); err != nil {
		return err
	}

	frameIdx := resp.Metadata.FrameIdxOriginal
	if len(resp.Frames) != len(frameIdx) {
		return xerror.Newf(xerror.ContractViolation, "check video2frames response",
			"%d frames but %d frame_idx_original entries", len(resp.Frames), len(frameIdx))
	}

	// 4. Per frame
	bar := r.newProgress(len(resp.Frames))
	for i, frame := range resp.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processFrame(ctx, log, base, frameIdx[i], frame); err != nil {
			return err
		}
		bar.Add(1)
	}
	bar.Finish()

	log.Info("Pipeline finished", zap.Int("frames", len(resp.Frames)), zap.String("save_dir", r.cfg.SaveDir))
	return nil
}

func (r *Runner) persistMetadata(ctx context.Context, log *zap.Logger, base string, metadata *types.Metadata) error {
	log.Info("Metadata received", zap.ByteString("metadata", metadata.Raw))

	var doc bytes.Buffer
	if err := json.Indent(&doc, metadata.Raw, "", "    "); err != nil {
		return xerror.New(xerror.Protocol, "format metadata", err)
	}

	name := utils.MetadataFileName(base)
	if err := r.sink.WriteFile(ctx, name, doc.Bytes()); err != nil {
		return xerror.New(xerror.FileAccess, "write "+r.sink.Location(name), err)
	}
	log.Info("Metadata saved", zap.String("path", r.sink.Location(name)))

	if recErr := r.recorder.RecordMetadata(ctx, r.runID, metadata.Raw); recErr != nil {
		log.Warn("Failed to index metadata", zap.Error(recErr))
	}
	return nil
}

func (r *Runner) processFrame(ctx context.Context, log *zap.Logger, base string, frameIdx int, frame []byte) error {
	imageName, err := r.saveFrame(ctx, base, frameIdx, frame)
	if err != nil {
		return err
	}
	imagePath := r.sink.Location(imageName)
	log.Info("Frame saved", zap.Int("frame_idx", frameIdx), zap.String("path", imagePath))

	// The face service gets the bytes video2frames produced, not the re-encoded file.
	face, err := r.services.RequestFaceAnalysis(ctx, frame)
	if err != nil {
		return err
	}

	data, err := facefile.Marshal(facefile.New(frameIdx, imagePath, face.FaceDetectionRecognition))
	if err != nil {
		return xerror.New(xerror.FileAccess, "encode face result", err)
	}

	faceName := facefile.PathFor(imageName)
	if err := r.sink.WriteFile(ctx, faceName, data); err != nil {
		return xerror.New(xerror.FileAccess, "write "+r.sink.Location(faceName), err)
	}
	metrics.FaceResultsTotal.Inc()
	log.Debug("Face result saved", zap.Int("frame_idx", frameIdx), zap.String("path", r.sink.Location(faceName)))

	if recErr := r.recorder.RecordFrame(ctx, r.runID, frameIdx, imagePath, r.sink.Location(faceName), face.FaceDetectionRecognition); recErr != nil {
		log.Warn("Failed to index frame", zap.Int("frame_idx", frameIdx), zap.Error(recErr))
	}
	return nil
}

// saveFrame decodes the frame and writes it as a JPEG. It returns the file name.
func (r *Runner) saveFrame(ctx context.Context, base string, frameIdx int, frame []byte) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "frame.save")
	defer span.End()
	span.SetAttributes(attribute.Int("frame.idx", frameIdx))

	data, err := toJPEG(frame)
	if err != nil {
		span.SetStatus(codes.Error, "decode failed")
		return "", xerror.New(xerror.Decode, "decode frame "+utils.FrameFileName(base, frameIdx), err)
	}

	name := utils.FrameFileName(base, frameIdx)
	if err := r.sink.WriteFile(ctx, name, data); err != nil {
		return "", xerror.New(xerror.FileAccess, "write "+r.sink.Location(name), err)
	}
	metrics.FramesSavedTotal.Inc()
	return name, nil
}

// toJPEG validates frame as an image. JPEG input is kept as is, anything else is re-encoded.
func toJPEG(frame []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	if format == "jpeg" {
		return frame, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NopRecorder is used when no run index is configured.
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, uuid.UUID, string, string) error {
	return nil
}

func (NopRecorder) RecordMetadata(context.Context, uuid.UUID, []byte) error {
	return nil
}

func (NopRecorder) RecordFrame(context.Context, uuid.UUID, int, string, string, []byte) error {
	return nil
}

func (NopRecorder) FinishRun(context.Context, uuid.UUID, error) error {
	return nil
}

type nopProgress struct{}

func (nopProgress) Add(int) error { return nil }
func (nopProgress) Finish() error { return nil }
