package main

import (
	"archive/zip"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fulcrum/internal/capture"
	"fulcrum/internal/client"
	"fulcrum/internal/config"
	"fulcrum/internal/recording"
	"fulcrum/internal/session"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables (used as fallback if flags not provided):\n")
		fmt.Fprintf(os.Stderr, "  FULCRUM_SERVER_ADDR   - Archival service address\n")
		fmt.Fprintf(os.Stderr, "  FULCRUM_SERVER_TOKEN  - Archival service bearer token\n")
		fmt.Fprintf(os.Stderr, "  FULCRUM_DATA_DIR      - Directory for session artifacts\n")
	}

	var configPath = flag.String("config", "", "Path to config file (YAML)")
	var noUpload = flag.Bool("no-upload", false, "Keep results local instead of uploading on session end")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.Directory, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	kernel := capture.NewKernel(capture.Options{
		Source:        capture.NewHookSource(),
		MoveThreshold: cfg.Capture.MoveThreshold,
		BatchRows:     cfg.Capture.BatchRows,
	})
	recorder := recording.NewRecorder(cfg.Recorder.FPS, cfg.Recorder.FFmpegPath)

	hub := session.NewHub()
	go hub.Run()

	controller := session.NewController(cfg.Storage.Directory, kernel, recorder, hub)
	server := session.NewServer(controller, hub)

	errc := make(chan error, 1)
	go func() {
		log.Printf("Tracker control server listening on 127.0.0.1:%d", cfg.Control.Port)
		errc <- server.Run(cfg.Control.Port)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		log.Fatalf("Control server error: %v", err)
	case sig := <-sigc:
		log.Printf("Received signal %v, finalizing", sig)
		done := make(chan error, 1)
		go func() { done <- controller.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				log.Printf("Error finalizing session: %v", err)
				os.Exit(1)
			}
		case sig := <-sigc:
			// Finalizing can take a while with an encode in flight; a second
			// signal means stop now and keep whatever is on disk playable.
			log.Printf("Received second signal %v, aborting", sig)
			recorder.Abort()
			kernel.Abort()
			os.Exit(1)
		}
	case <-server.ShutdownRequested():
		log.Println("Shutdown requested, finalizing")
	}

	if !*noUpload {
		uploadResults(cfg, controller)
	}
	log.Println("Tracker stopped")
}

// uploadResults sends the finished session package to the archival service.
// A missing result set just means no session ran. When the package upload
// fails, each measurement CSV is retried individually before giving up and
// keeping the local files.
func uploadResults(cfg *config.Config, controller *session.Controller) {
	resultJSON, zipPath, err := controller.Results()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c := client.NewClient(cfg.Server.Address, cfg.Server.Token)
	if err := c.UploadSessionPackage(ctx, zipPath, resultJSON); err != nil {
		log.Printf("Failed to upload session package: %v", err)
		if perr := uploadPerInstance(ctx, c, resultJSON, zipPath); perr != nil {
			log.Printf("Per-measurement upload failed, results kept at %s: %v", zipPath, perr)
		}
		return
	}
	log.Printf("Uploaded session package %s", zipPath)
}

// uploadPerInstance walks the packaged archive and posts each measurement
// CSV on its own, so a partially reachable service still receives the rows.
// Requires a descriptor that carries study and measurement option ids.
func uploadPerInstance(ctx context.Context, c *client.Client, resultJSON []byte, zipPath string) error {
	desc, err := session.ParseDescriptor(resultJSON)
	if err != nil {
		return fmt.Errorf("unreadable session results: %w", err)
	}
	if desc.StudyID == 0 || len(desc.MeasurementOptionIDs) == 0 {
		return fmt.Errorf("descriptor lacks study or measurement option ids")
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open session archive: %w", err)
	}
	defer zr.Close()

	uploaded := 0
	for i, trial := range desc.Trials {
		task := desc.Task(trial)
		factor := desc.Factor(trial)

		ordinal := 1
		for j := 0; j < i; j++ {
			if desc.Trials[j].TaskID == trial.TaskID && desc.Trials[j].FactorID == trial.FactorID {
				ordinal++
			}
		}
		trialDir := session.TrialDirName(task.TaskName, factor.FactorName, ordinal)

		for name, optionID := range desc.MeasurementOptionIDs {
			entryName := path.Join(session.SessionDirName(desc.ParticipantSessID), trialDir,
				strings.Join(strings.Fields(name), "")+".csv")
			f, err := zr.Open(entryName)
			if err != nil {
				continue
			}
			csvPath, err := extractToTemp(f, filepath.Base(entryName))
			f.Close()
			if err != nil {
				return err
			}
			err = c.UploadInstance(ctx, desc.ParticipantSessID, desc.StudyID,
				trial.TaskID, optionID, trial.FactorID, csvPath)
			os.Remove(csvPath)
			if err != nil {
				return fmt.Errorf("trial %d %s: %w", i+1, name, err)
			}
			uploaded++
		}
	}

	log.Printf("Uploaded %d measurement files individually", uploaded)
	return nil
}

func extractToTemp(r io.Reader, name string) (string, error) {
	out, err := os.CreateTemp("", "fulcrum-upload-*-"+name)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to extract %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return out.Name(), nil
}
