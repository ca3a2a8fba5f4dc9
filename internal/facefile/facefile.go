// Package facefile reads and writes the per-frame face analysis files
// (<frame>.jpg.face-detection-recognition.pkl).
//
// The face service owns the result schema, so the result is stored as the exact JSON bytes
// it sent, inside a small msgpack record.
package facefile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Suffix is appended to the frame image path to name its face result file.
const Suffix = ".face-detection-recognition.pkl"

// Version is the current record layout.
const Version = 1

// Record is one frame's face analysis.
type Record struct {
	Version                  int    `msgpack:"version"`
	FrameIdx                 int    `msgpack:"frame_idx"`
	Image                    string `msgpack:"image"`
	FaceDetectionRecognition []byte `msgpack:"face_detection_recognition"`
}

// PathFor returns the face result file path for a saved frame image.
func PathFor(imagePath string) string {
	return imagePath + Suffix
}

// New builds a record for the given frame.
func New(frameIdx int, imagePath string, result json.RawMessage) Record {
	return Record{
		Version:                  Version,
		FrameIdx:                 frameIdx,
		Image:                    imagePath,
		FaceDetectionRecognition: append([]byte(nil), result...),
	}
}

// Marshal encodes a record.
func Marshal(rec Record) ([]byte, error) {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode face record: %w", err)
	}
	return data, nil
}

// Read decodes a record and checks its version.
func Read(r io.Reader) (Record, error) {
	var rec Record
	if err := msgpack.NewDecoder(r).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode face record: %w", err)
	}
	if rec.Version != Version {
		return Record{}, fmt.Errorf("unsupported face record version %d", rec.Version)
	}
	return rec, nil
}

// Unmarshal is Read over a byte slice.
func Unmarshal(data []byte) (Record, error) {
	return Read(bytes.NewReader(data))
}

// PrettyResult returns the stored result indented for display.
func (r Record) PrettyResult() ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, r.FaceDetectionRecognition, "", "    "); err != nil {
		return nil, fmt.Errorf("stored result is not valid JSON: %w", err)
	}
	return out.Bytes(), nil
}
