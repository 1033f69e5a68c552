package media

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// FrameExtractor samples still frames from a time-lapse video with ffmpeg
// so the grading model can see the development sequence. A still image
// passes through as a single frame.
type FrameExtractor struct {
	FFmpegPath string // defaults to "ffmpeg" on PATH
	Interval   int    // seconds between sampled frames
	MaxFrames  int    // cap on frames handed to the model
}

func NewFrameExtractor(ffmpegPath string, interval, maxFrames int) *FrameExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if interval <= 0 {
		interval = 15
	}
	if maxFrames <= 0 {
		maxFrames = 8
	}
	return &FrameExtractor{FFmpegPath: ffmpegPath, Interval: interval, MaxFrames: maxFrames}
}

// ExtractFrames writes videoData to a scratch file, samples JPEG frames at
// the configured interval and returns their bytes in timeline order. The
// scratch directory is removed before returning.
func (e *FrameExtractor) ExtractFrames(videoData []byte, ext string) ([][]byte, error) {
	workDir, err := os.MkdirTemp("", "embryograde-frames-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if ext == "" || !strings.HasPrefix(ext, ".") {
		ext = ".mp4"
	}
	videoPath := filepath.Join(workDir, "input"+ext)
	if err := os.WriteFile(videoPath, videoData, 0o600); err != nil {
		return nil, fmt.Errorf("write scratch video: %w", err)
	}

	cmd := exec.Command(
		e.FFmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", e.Interval),
		filepath.Join(workDir, "frame_%04d.jpg"),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v\noutput: %s", err, string(output))
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("read frames directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames extracted from video")
	}
	sort.Strings(names)

	// Thin evenly down to MaxFrames, keeping first and last. A cap of one
	// keeps only the first frame; the even-step formula needs two slots.
	if limit := e.MaxFrames; limit > 0 && len(names) > limit {
		if limit == 1 {
			names = names[:1]
		} else {
			thinned := make([]string, 0, limit)
			step := float64(len(names)-1) / float64(limit-1)
			for i := 0; i < limit; i++ {
				thinned = append(thinned, names[int(float64(i)*step+0.5)])
			}
			names = thinned
		}
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(workDir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}
