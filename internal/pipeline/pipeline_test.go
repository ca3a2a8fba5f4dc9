package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/vidface/internal/config"
	"github.com/andresmejia3/vidface/internal/envelope"
	"github.com/andresmejia3/vidface/internal/facefile"
	"github.com/andresmejia3/vidface/internal/remote"
	"github.com/andresmejia3/vidface/internal/storage"
	"github.com/andresmejia3/vidface/internal/types"
	"github.com/andresmejia3/vidface/internal/xerror"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMetadata = `{"frame_idx_original": [0, 7], "fps_original": 29.97, "source": {"codec": "h264", "tags": [1, "a", null]}}`

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 30), 128, 255})
		}
	}
	return img
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))
	return buf.Bytes()
}

func pngFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return buf.Bytes()
}

// fakeServices stands up both remote services and counts the calls they receive.
type fakeServices struct {
	frames    [][]byte
	metadata  string
	faceBody  func(call int) string
	v2fCalls  atomic.Int32
	faceCalls atomic.Int32
	v2f       *httptest.Server
	face      *httptest.Server

	mu         sync.Mutex
	faceImages [][]byte
}

func newFakeServices(t *testing.T, frames [][]byte, metadata string) *fakeServices {
	f := &fakeServices{
		frames:   frames,
		metadata: metadata,
		faceBody: func(call int) string {
			return fmt.Sprintf(`{"face_detection_recognition": [{"bbox": [1, 2, 3, 4], "call": %d}]}`, call)
		},
	}

	f.v2f = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.v2fCalls.Add(1)
		var req types.VideoToFramesRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, envelope.Decode(body, &req))

		encoded := make([]envelope.Bytes, len(f.frames))
		for i, fr := range f.frames {
			encoded[i] = fr
		}
		framesJSON, err := json.Marshal(encoded)
		assert.NoError(t, err)
		w.Write([]byte(`{"frames": ` + string(framesJSON) + `, "metadata": ` + f.metadata + `}`))
	}))

	f.face = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := int(f.faceCalls.Add(1))
		var req types.FaceRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, envelope.Decode(body, &req))
		f.mu.Lock()
		f.faceImages = append(f.faceImages, req.Image)
		f.mu.Unlock()
		w.Write([]byte(f.faceBody(call)))
	}))

	t.Cleanup(func() {
		f.v2f.Close()
		f.face.Close()
	})
	return f
}

func (f *fakeServices) client() *remote.Client {
	return remote.NewClient(f.v2f.URL, f.face.URL, 0, zap.NewNop())
}

type recorded struct {
	started  bool
	metadata []byte
	frames   []int
	finished error
	closed   bool
}

type fakeRecorder struct {
	r   recorded
	err error
}

func (f *fakeRecorder) StartRun(ctx context.Context, runID uuid.UUID, videoPath, saveDir string) error {
	f.r.started = true
	return f.err
}

func (f *fakeRecorder) RecordMetadata(ctx context.Context, runID uuid.UUID, metadata []byte) error {
	f.r.metadata = metadata
	return f.err
}

func (f *fakeRecorder) RecordFrame(ctx context.Context, runID uuid.UUID, frameIdx int, imagePath, facePath string, faceResult []byte) error {
	f.r.frames = append(f.r.frames, frameIdx)
	return f.err
}

func (f *fakeRecorder) FinishRun(ctx context.Context, runID uuid.UUID, runErr error) error {
	f.r.closed = true
	f.r.finished = runErr
	return f.err
}

type countingProgress struct {
	total, added int
	finished     bool
}

func (p *countingProgress) Add(n int) error { p.added += n; return nil }
func (p *countingProgress) Finish() error   { p.finished = true; return nil }

func setup(t *testing.T, svc *fakeServices) (*config.PipelineConfig, afero.Fs, storage.Sink) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/videos/video.mp4", []byte("fake video content"), 0644))

	cfg := &config.PipelineConfig{
		Video2FramesURL: svc.v2f.URL,
		FaceURL:         svc.face.URL,
		VideoPath:       "/videos/video.mp4",
		WidthMax:        1280,
		HeightMax:       720,
		FPSMax:          1,
		SaveDir:         "data",
	}
	sink, err := storage.NewLocalStorage(fs, cfg.SaveDir)
	require.NoError(t, err)
	return cfg, fs, sink
}

func jpgFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	matches, err := afero.Glob(fs, "data/*.jpg")
	require.NoError(t, err)
	return matches
}

func TestRunEndToEnd(t *testing.T) {
	frame0, frame7 := jpegFrame(t), pngFrame(t)
	svc := newFakeServices(t, [][]byte{frame0, frame7}, testMetadata)
	cfg, fs, sink := setup(t, svc)

	rec := &fakeRecorder{}
	var bar *countingProgress
	runner := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop(),
		WithRecorder(rec),
		WithProgress(func(total int) Progress {
			bar = &countingProgress{total: total}
			return bar
		}),
	)
	require.NoError(t, runner.Run(context.Background()))

	// Every expected artifact exists
	for _, name := range []string{
		"data/video.mp4.metadata.json",
		"data/video.mp4.00000.jpg",
		"data/video.mp4.00007.jpg",
		"data/video.mp4.00000.jpg.face-detection-recognition.pkl",
		"data/video.mp4.00007.jpg.face-detection-recognition.pkl",
	} {
		exists, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.True(t, exists, "missing %s", name)
	}
	assert.Len(t, jpgFiles(t, fs), 2, "one JPEG per frame_idx_original entry")

	// Metadata round trips and is indented with 4 spaces
	meta, err := afero.ReadFile(fs, "data/video.mp4.metadata.json")
	require.NoError(t, err)
	assert.JSONEq(t, testMetadata, string(meta))
	assert.Contains(t, string(meta), "\n    \"frame_idx_original\"")

	// JPEG input is kept byte for byte, PNG input is re-encoded as JPEG
	saved0, _ := afero.ReadFile(fs, "data/video.mp4.00000.jpg")
	assert.Equal(t, frame0, saved0)
	saved7, _ := afero.ReadFile(fs, "data/video.mp4.00007.jpg")
	_, format, err := image.Decode(bytes.NewReader(saved7))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	// The face service saw the original frame bytes, in order
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.faceImages, 2)
	assert.Equal(t, frame0, svc.faceImages[0])
	assert.Equal(t, frame7, svc.faceImages[1])

	// Face results are stored untouched
	pkl, err := afero.ReadFile(fs, "data/video.mp4.00007.jpg.face-detection-recognition.pkl")
	require.NoError(t, err)
	faceRec, err := facefile.Unmarshal(pkl)
	require.NoError(t, err)
	assert.Equal(t, 7, faceRec.FrameIdx)
	assert.Equal(t, "data/video.mp4.00007.jpg", faceRec.Image)
	assert.Equal(t, `[{"bbox": [1, 2, 3, 4], "call": 2}]`, string(faceRec.FaceDetectionRecognition))

	// Index and progress saw the whole run
	assert.True(t, rec.r.started)
	assert.JSONEq(t, testMetadata, string(rec.r.metadata))
	assert.Equal(t, []int{0, 7}, rec.r.frames)
	assert.True(t, rec.r.closed)
	assert.NoError(t, rec.r.finished)
	require.NotNil(t, bar)
	assert.Equal(t, 2, bar.total)
	assert.Equal(t, 2, bar.added)
	assert.True(t, bar.finished)
}

func TestRunLengthMismatch(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t)}, testMetadata)
	cfg, fs, sink := setup(t, svc)
	rec := &fakeRecorder{}

	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop(), WithRecorder(rec)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerror.ErrContractViolation), "got %v", err)

	// Metadata is written first, no frame is
	exists, _ := afero.Exists(fs, "data/video.mp4.metadata.json")
	assert.True(t, exists)
	assert.Empty(t, jpgFiles(t, fs))
	assert.Equal(t, int32(0), svc.faceCalls.Load())
	assert.ErrorIs(t, rec.r.finished, xerror.ErrContractViolation)
}

func TestRunMetadataWithoutFrameIndex(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
	}{
		{name: "No frames", frames: nil},
		{name: "With frames", frames: [][]byte{jpegFrame(t)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeServices(t, tt.frames, `{"fps_original": 30}`)
			cfg, fs, sink := setup(t, svc)

			err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, xerror.Protocol, xerror.KindOf(err), "got %v", err)
			assert.Contains(t, err.Error(), "frame_idx_original")

			written, err := afero.ReadDir(fs, "data")
			require.NoError(t, err)
			assert.Empty(t, written, "nothing is written for a malformed response")
			assert.Equal(t, int32(0), svc.faceCalls.Load())
		})
	}
}

func TestRunEmptyFrameList(t *testing.T) {
	svc := newFakeServices(t, nil, `{"frame_idx_original": []}`)
	cfg, fs, sink := setup(t, svc)

	require.NoError(t, NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background()))
	exists, _ := afero.Exists(fs, "data/video.mp4.metadata.json")
	assert.True(t, exists)
	assert.Empty(t, jpgFiles(t, fs))
}

func TestRunMissingVideo(t *testing.T) {
	svc := newFakeServices(t, nil, `{"frame_idx_original": []}`)
	cfg, fs, sink := setup(t, svc)
	cfg.VideoPath = "/videos/nope.mp4"

	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, xerror.FileAccess, xerror.KindOf(err))
	assert.Equal(t, int32(0), svc.v2fCalls.Load(), "no network call before the video is read")
	assert.Equal(t, int32(0), svc.faceCalls.Load())
}

func TestRunFaceResultMissing(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t), jpegFrame(t)}, testMetadata)
	svc.faceBody = func(call int) string {
		if call == 2 {
			return `{"faces": []}`
		}
		return `{"face_detection_recognition": []}`
	}
	cfg, fs, sink := setup(t, svc)

	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerror.ErrProtocol), "got %v", err)

	first, _ := afero.Exists(fs, "data/video.mp4.00000.jpg.face-detection-recognition.pkl")
	assert.True(t, first)
	img, _ := afero.Exists(fs, "data/video.mp4.00007.jpg")
	assert.True(t, img, "the frame is saved before the face request")
	pkl, _ := afero.Exists(fs, "data/video.mp4.00007.jpg.face-detection-recognition.pkl")
	assert.False(t, pkl)
}

func TestRunFaceServiceFailureIsFatal(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t), jpegFrame(t)}, testMetadata)
	cfg, fs, sink := setup(t, svc)
	svc.face.Close()

	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, xerror.Service, xerror.KindOf(err))
	assert.Len(t, jpgFiles(t, fs), 1, "processing stops at the first frame")
}

func TestRunInvalidImage(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t), []byte("definitely not an image")}, testMetadata)
	cfg, fs, sink := setup(t, svc)

	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, xerror.ErrDecode)
	assert.Equal(t, int32(1), svc.faceCalls.Load(), "no face request for an undecodable frame")
	assert.Len(t, jpgFiles(t, fs), 1)
}

func TestRunRecorderFailuresAreNotFatal(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t), jpegFrame(t)}, testMetadata)
	cfg, fs, sink := setup(t, svc)
	rec := &fakeRecorder{err: errors.New("connection reset")}

	require.NoError(t, NewRunner(cfg, svc.client(), sink, fs, zap.NewNop(), WithRecorder(rec)).Run(context.Background()))
	assert.Len(t, jpgFiles(t, fs), 2)
}

func TestRunCancelled(t *testing.T) {
	svc := newFakeServices(t, [][]byte{jpegFrame(t)}, `{"frame_idx_original": [3]}`)
	cfg, fs, sink := setup(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRunner(cfg, svc.client(), sink, fs, zap.NewNop()).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, jpgFiles(t, fs))
}

func TestRunIDOption(t *testing.T) {
	id := uuid.MustParse("6f1c2a8e-1d1b-4a52-9a83-3c5f0b0a1e11")
	r := NewRunner(&config.PipelineConfig{}, nil, nil, afero.NewMemMapFs(), zap.NewNop(), WithRunID(id))
	assert.Equal(t, id, r.RunID())
}
