package pose

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultFrameToleranceNs is the matching window used for video frames
const DefaultFrameToleranceNs int64 = 5_000_000_000

// ParseFPS parses a frame-rate expression such as "2" or "1/3"
func ParseFPS(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if num, den, ok := strings.Cut(expr, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fps numerator %q: %w", num, err)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fps denominator %q: %w", den, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("invalid fps %q: zero denominator", expr)
		}
		return checkFPS(expr, n/d)
	}

	v, err := strconv.ParseFloat(expr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fps %q: %w", expr, err)
	}
	return checkFPS(expr, v)
}

func checkFPS(expr string, v float64) (float64, error) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid fps %q: must be positive", expr)
	}
	return v, nil
}

// FrameIntervalNs returns the capture-clock spacing of frames sampled at fps,
// never less than 1ns
func FrameIntervalNs(fps float64) int64 {
	return max(1, int64(1e9/fps))
}

// FrameJob describes a batch of frames extracted from one video
type FrameJob struct {
	VideoBase   string   // file name of the video without extension
	Frames      []string // frame image paths
	StartNs     int64    // capture clock at recording start
	FPS         float64
	ToleranceNs int64
	OutputDir   string // defaults to the directory of each frame
	WriteYPR    bool   // also emit <id>.ypr.json
}

// FrameResult is the outcome for a single tagged frame
type FrameResult struct {
	ID          string
	ImagePath   string
	GeoPosePath string
	Pose        FusedPose
}

// FrameSummary counts the outcome of a FrameJob
type FrameSummary struct {
	FramesTotal    int           `json:"framesTotal"`
	GeoPoseWritten int           `json:"geoposeWritten"`
	Skipped        int           `json:"skipped"`
	Results        []FrameResult `json:"-"`
}

// FrameID returns the stable id of the idx-th (zero based) frame of a video
func FrameID(videoBase string, idx int) string {
	return fmt.Sprintf("%s_%06d", videoBase, idx+1)
}

// TagFrames assigns a pose to every frame of job, in file-name order, and
// writes a Basic-Quaternion GeoPose next to a copy of the frame named after
// its id. Frames with no pose within tolerance are skipped.
func TagFrames(store *Store, job FrameJob) (FrameSummary, error) {
	frames := append([]string(nil), job.Frames...)
	sort.Slice(frames, func(i, j int) bool {
		return filepath.Base(frames[i]) < filepath.Base(frames[j])
	})

	tol := job.ToleranceNs
	if tol <= 0 {
		tol = DefaultFrameToleranceNs
	}
	fps := job.FPS
	if fps <= 0 {
		fps = 1
	}
	interval := FrameIntervalNs(fps)
	oriStd := Float64(DefaultOrientationStdDevDeg)

	summary := FrameSummary{FramesTotal: len(frames)}
	for idx, frame := range frames {
		t := job.StartNs + int64(idx)*interval

		fp, err := store.Resolve(t, tol)
		if err != nil {
			summary.Skipped++
			continue
		}

		id := FrameID(job.VideoBase, idx)
		dir := job.OutputDir
		if dir == "" {
			dir = filepath.Dir(frame)
		}

		image := filepath.Join(dir, id+filepath.Ext(frame))
		if image != frame {
			if err := copyFile(frame, image); err != nil {
				return summary, err
			}
		}

		geoPath := filepath.Join(dir, id+".geopose.json")
		if err := WriteGeoPose(geoPath, NewQuaternionGeoPose(id, fp, oriStd)); err != nil {
			return summary, err
		}
		if job.WriteYPR {
			yprPath := filepath.Join(dir, id+".ypr.json")
			if err := WriteGeoPose(yprPath, NewYPRGeoPose(id, fp, oriStd)); err != nil {
				return summary, err
			}
		}

		summary.GeoPoseWritten++
		summary.Results = append(summary.Results, FrameResult{
			ID:          id,
			ImagePath:   image,
			GeoPosePath: geoPath,
			Pose:        fp,
		})
	}

	return summary, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening frame: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating frame directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating frame copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying frame: %w", err)
	}
	return out.Close()
}
