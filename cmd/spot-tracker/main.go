// spot-tracker reads per-frame person detections as JSON lines, tracks
// people across frames, and emits one record per visible track per frame
// with its centroid trajectory and turn angle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gelloguiam/spot-video-analysis/internal/config"
	"github.com/gelloguiam/spot-video-analysis/internal/detections"
	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/pipeline"
	"github.com/gelloguiam/spot-video-analysis/internal/publish"
	"github.com/gelloguiam/spot-video-analysis/internal/storage/sqlite"
	"github.com/gelloguiam/spot-video-analysis/internal/version"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

var (
	configPath  = flag.String("config", "", "Tuning config JSON (defaults apply when empty)")
	inputPath   = flag.String("input", "-", "Detection JSON lines file, or - for stdin")
	outputPath  = flag.String("output", "-", "Track record JSON lines file, - for stdout, empty to disable")
	dbPath      = flag.String("db", "", "SQLite database for track observations (empty to disable)")
	listen      = flag.String("listen", "", "Websocket listen address, e.g. :8090 (empty to disable)")
	debug       = flag.Bool("debug", false, "Log per-track lifecycle events")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	configPath string
	inputPath  string
	outputPath string
	dbPath     string
	listen     string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("spot-tracker", version.String())
		return
	}
	monitoring.SetDebug(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		configPath: *configPath,
		inputPath:  *inputPath,
		outputPath: *outputPath,
		dbPath:     *dbPath,
		listen:     *listen,
	}
	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("spot-tracker: %v", err)
	}
}

// run wires the stages for one input stream and blocks until the stream
// ends or ctx is cancelled.
func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	tuning := config.EmptyTuningConfig()
	if opts.configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(opts.configPath); err != nil {
			return err
		}
	}

	tracker, err := tracking.NewTracker(tracking.TrackerConfigFromTuning(tuning))
	if err != nil {
		return err
	}

	input := stdin
	if opts.inputPath != "-" {
		f, err := os.Open(opts.inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	runID := uuid.New().String()
	var store *sqlite.Store
	if opts.dbPath != "" {
		store, err = sqlite.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		if runID, err = store.BeginRun(ctx, version.Version, tuning.JSON()); err != nil {
			return err
		}
	}
	monitoring.Logf("[spot-tracker] run %s (%s)", runID, version.String())

	var records *detections.RecordWriter
	if opts.outputPath != "" {
		out := stdout
		if opts.outputPath != "-" {
			f, err := os.Create(opts.outputPath)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}
		records = detections.NewRecordWriter(out, runID)
	}

	var (
		hub *publish.Hub
		wg  sync.WaitGroup
	)
	if opts.listen != "" {
		hubCtx, cancelHub := context.WithCancel(ctx)
		defer cancelHub()

		hub = publish.NewHub(runID)
		ln, err := net.Listen("tcp", opts.listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", opts.listen, err)
		}
		server := &http.Server{Handler: hub.Handler()}

		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Run(hubCtx)
		}()
		go func() {
			defer wg.Done()
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("[spot-tracker] websocket server: %v", err)
			}
		}()
		monitoring.Logf("[spot-tracker] publishing frames on ws://%s/ws", ln.Addr())

		defer func() {
			cancelHub()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("[spot-tracker] websocket shutdown: %v", err)
			}
			wg.Wait()
		}()
	}

	p := &pipeline.Config{
		Source:        detections.NewReader(input),
		Tracker:       tracker,
		Records:       records,
		Store:         store,
		Publisher:     hub,
		ProgressEvery: 1000,
	}
	_, runErr := p.Run(ctx)

	if records != nil {
		if err := records.Flush(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if store != nil {
		if err := store.FinishRun(context.Background()); err != nil && runErr == nil {
			runErr = err
		}
	}

	st := tracker.Stats()
	monitoring.Logf("[spot-tracker] tracks: %d created, %d confirmed, %d deleted (%d force-deleted), %d active",
		st.Created, st.Confirmed, st.Deleted, st.ForceDeleted, st.Active)
	return runErr
}
