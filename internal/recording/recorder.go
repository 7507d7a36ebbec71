package recording

import (
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// Recorder captures the primary display as an H.264 MP4. Frames are grabbed
// at a nominal rate and piped raw into an ffmpeg encode; because grab cost
// varies per machine, the achieved rate is measured and the finished file is
// re-timed with a setpts pass so playback speed is correct.
type Recorder struct {
	fps        int
	ffmpegPath string

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	filePath string
	err      error
}

func NewRecorder(fps int, ffmpegPath string) *Recorder {
	if fps <= 0 {
		fps = 15
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Recorder{
		fps:        fps,
		ffmpegPath: ffmpegPath,
	}
}

// Start begins recording to filePath. Returns an error if a recording is
// already in progress or the display/encoder cannot be opened.
func (r *Recorder) Start(filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("recording already in progress")
	}

	if screenshot.NumActiveDisplays() == 0 {
		return fmt.Errorf("no active display to record")
	}
	bounds := screenshot.GetDisplayBounds(0)

	cmd := exec.Command(r.ffmpegPath,
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		"-r", fmt.Sprint(r.fps),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		filePath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	r.running = true
	r.filePath = filePath
	r.err = nil
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})

	go r.captureLoop(bounds, stdin, cmd)
	return nil
}

func (r *Recorder) captureLoop(bounds image.Rectangle, stdin io.WriteCloser, cmd *exec.Cmd) {
	defer close(r.doneChan)

	interval := time.Second / time.Duration(r.fps)
	start := time.Now()
	frames := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-r.stopChan:
			break loop
		case <-ticker.C:
			img, err := screenshot.CaptureRect(bounds)
			if err != nil {
				// Transient grab failures (screen lock, display sleep)
				// just drop the frame.
				continue
			}
			if _, err := stdin.Write(img.Pix); err != nil {
				r.setErr(fmt.Errorf("encoder pipe closed: %w", err))
				break loop
			}
			frames++
		}
	}

	stdin.Close()
	if err := cmd.Wait(); err != nil {
		r.setErr(fmt.Errorf("ffmpeg encode failed: %w", err))
		return
	}

	elapsed := time.Since(start).Seconds()
	if frames == 0 || elapsed <= 0 {
		return
	}
	measured := float64(frames) / elapsed
	if err := r.adjustVideo(measured); err != nil {
		r.setErr(err)
	}
}

// adjustVideo re-times the finished file so it plays at real speed. The
// encode ran at the nominal rate but frames arrived at the measured rate,
// so every timestamp is scaled by nominal/measured.
func (r *Recorder) adjustVideo(measuredFPS float64) error {
	tempPath := r.filePath + ".adjust.mp4"

	cmd := exec.Command(r.ffmpegPath,
		"-y",
		"-i", r.filePath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-vf", fmt.Sprintf("setpts=%f*PTS", float64(r.fps)/measuredFPS),
		tempPath,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("ffmpeg adjustment failed: %w", err)
	}
	return os.Rename(tempPath, r.filePath)
}

func (r *Recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	log.Printf("recording: %v", err)
}

// Stop ends the recording and blocks until the encode and the timestamp
// adjustment pass have finished. Idempotent.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopChan)
	done := r.doneChan
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Abort ends the recording without waiting for the adjustment pass. The
// partial file is remuxed so it stays playable.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	done := r.doneChan
	filePath := r.filePath
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("recording: abort timed out waiting for encoder")
		return
	}

	if err := r.remux(filePath); err != nil {
		log.Printf("recording: %v", err)
	}
}

// remux keeps whatever made it to disk playable without a re-encode. On
// failure the original file is left as it was.
func (r *Recorder) remux(filePath string) error {
	tempPath := filePath + ".remux.mp4"
	cmd := exec.Command(r.ffmpegPath, "-y", "-i", filePath, "-c", "copy", tempPath)
	if err := cmd.Run(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("remux of aborted file failed: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return fmt.Errorf("failed to replace aborted file: %w", err)
	}
	return nil
}

// IsRunning returns whether a recording is in progress.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
