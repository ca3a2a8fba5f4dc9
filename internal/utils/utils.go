package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/vidface/internal/xerror"
)

// --- 1. User Facing Errors ---

// ShowError prints the formatted error box to stderr.
func ShowError(context string, err error) {
	writeErrorBox(os.Stderr, context, err)
}

// Die is the unified exit strategy for vidface.
// It prints the error box and exits with status 1.
func Die(context string, err error) {
	ShowError(context, err)
	os.Exit(1)
}

func writeErrorBox(w io.Writer, context string, err error) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 VIDFACE ERROR: %s\n", context)
	if err != nil {
		if kind := xerror.KindOf(err); kind != "" {
			fmt.Fprintf(w, "KIND:    %s\n", kind)
		}
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Output Naming (Shared by the pipeline & inspect) ---

// VideoBaseName is the file name component every output of a run starts with.
func VideoBaseName(videoPath string) string {
	return filepath.Base(videoPath)
}

// MetadataFileName names the metadata document of a video.
func MetadataFileName(base string) string {
	return base + ".metadata.json"
}

// FrameFileName names a saved frame. The index is the frame's position in the source video.
func FrameFileName(base string, frameIdx int) string {
	return fmt.Sprintf("%s.%05d.jpg", base, frameIdx)
}
