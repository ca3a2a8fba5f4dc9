package types

import (
	"encoding/json"

	"github.com/andresmejia3/vidface/internal/envelope"
)

// VideoToFramesRequest is the envelope sent once to the video2frames service.
type VideoToFramesRequest struct {
	FPSMax    int            `json:"fps_max"`
	WidthMax  int            `json:"width_max"`
	HeightMax int            `json:"height_max"`
	Video     envelope.Bytes `json:"video"`
}

// VideoToFramesResponse matches the JSON structure coming back from video2frames.
// Frames and Metadata are pointers-or-nil so a missing key can be told apart from an empty one.
type VideoToFramesResponse struct {
	Frames   []envelope.Bytes `json:"frames"`
	Metadata *Metadata        `json:"metadata"`
}

// Metadata keeps the raw document so unknown fields are passed through untouched.
// FrameIdxOriginal is nil when the key is absent or null, and non-nil (possibly empty) otherwise.
type Metadata struct {
	FrameIdxOriginal []int
	Raw              json.RawMessage
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var known struct {
		FrameIdxOriginal *[]int `json:"frame_idx_original"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	m.FrameIdxOriginal = nil
	if known.FrameIdxOriginal != nil {
		m.FrameIdxOriginal = append([]int{}, (*known.FrameIdxOriginal)...)
	}
	m.Raw = append(m.Raw[:0], data...)
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// FaceRequest carries one frame, exactly as it was returned by video2frames.
type FaceRequest struct {
	Image envelope.Bytes `json:"image"`
}

// FaceResponse holds the face service result. The schema belongs to the service,
// so it is kept as raw bytes and never interpreted here.
type FaceResponse struct {
	FaceDetectionRecognition json.RawMessage `json:"face_detection_recognition"`
}

// ErrorResult captures the error object a service may return instead of a result
type ErrorResult struct {
	Error string `json:"error"`
}
