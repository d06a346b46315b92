package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
	"github.com/kwv/roadmesh/survey"
)

// frameExtensions are the image types picked up by --tag-frames
var frameExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// App encapsulates the application state and dependencies
type App struct {
	Config     *survey.Config
	Tracker    *survey.Tracker
	Captures   *survey.CaptureStore
	MQTTClient *survey.MQTTClient
	Publisher  *survey.Publisher
	Log        *zap.Logger
	Out        io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	DataDir      string
	CapturesFile string
	OutputFile   string
	RenderFormat string
	WithPoints   bool
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	SampleLog   string
	FramesDir   string
	VideoBase   string
	StartNs     int64
	FPS         string
	ToleranceMs int64
	WriteYPR    bool
}

// NewApp creates a new App instance
func NewApp(log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{Log: log, Out: os.Stdout}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.CapturesFile = opts.CapturesFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.WithPoints = opts.WithPoints
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.SampleLog = opts.SampleLog
	a.FramesDir = opts.FramesDir
	a.VideoBase = opts.VideoBase
	a.StartNs = opts.StartNs
	a.FPS = opts.FPS
	a.ToleranceMs = opts.ToleranceMs
	a.WriteYPR = opts.WriteYPR
}

// resolvePath places default-named files under the data directory
func (a *App) resolvePath(path, def string) string {
	if a.DataDir != "" && a.DataDir != "." && path == def && !filepath.IsAbs(path) {
		return filepath.Join(a.DataDir, path)
	}
	return path
}

// loadConfig loads the config file. Offline modes fall back to defaults when
// the file does not exist.
func (a *App) loadConfig(required bool) (*survey.Config, error) {
	path := a.resolvePath(a.ConfigFile, "config.yaml")
	if _, err := os.Stat(path); err != nil && !required {
		a.Log.Info("no config file, using defaults", zap.String("path", path))
		return survey.DefaultConfig(), nil
	}
	cfg, err := survey.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	a.Log.Info("loaded config", zap.String("path", path), zap.Int("sources", len(cfg.Sources)))
	return cfg, nil
}

// RunBuild builds the road graph from stored captures and writes the
// requested outputs
func (a *App) RunBuild() error {
	ctx := context.Background()

	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	a.Config = cfg

	records, err := a.loadRecords(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Loaded %d capture(s)\n", len(records))

	points := survey.RoadPoints(records)
	graph := cfg.Graph
	graph.PersistKeys = false
	a.Tracker = survey.NewTracker(graph, nil)
	res, err := a.Tracker.Rebuild(points)
	if err != nil {
		return fmt.Errorf("building road graph: %w", err)
	}
	fmt.Fprintf(a.Out, "Built %d edge(s), %d suppressed as duplicates\n", len(res.Edges), res.Suppressed)

	return a.writeOutputs(res.Edges, points)
}

func (a *App) loadRecords(ctx context.Context) ([]survey.CaptureRecord, error) {
	if a.CapturesFile != "" {
		f, err := os.Open(a.CapturesFile)
		if err != nil {
			return nil, fmt.Errorf("opening captures export: %w", err)
		}
		defer f.Close()
		return survey.LoadCaptureRecords(f)
	}

	dbPath := a.resolvePath(a.Config.Storage.CapturesDB, "captures.db")
	store, err := survey.OpenCaptureStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.All(ctx)
}

// writeOutputs writes the graph as GeoJSON, SVG and/or PNG depending on
// RenderFormat (geojson, svg, png or all)
func (a *App) writeOutputs(edges []roadgraph.GraphEdge, points []roadgraph.RoadPoint) error {
	format := a.RenderFormat
	if format == "" {
		format = "geojson"
	}
	switch format {
	case "geojson", "svg", "png", "all":
	default:
		return fmt.Errorf("invalid format: %s (must be geojson, svg, png or all)", format)
	}

	base := strings.TrimSuffix(a.OutputFile, filepath.Ext(a.OutputFile))
	if base == "" {
		base = "roads"
	}
	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	if format == "geojson" || format == "all" {
		var pts []roadgraph.RoadPoint
		if a.WithPoints {
			pts = points
		}
		fc := roadgraph.ToGeoJSON(edges, pts, nil, roadgraph.ExportOptions{Points: a.WithPoints, Headings: a.WithPoints})
		data, err := fc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding geojson: %w", err)
		}
		path := base + ".geojson"
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(a.Out, "Created: %s\n", path)
	}

	renderer := roadgraph.NewMapRenderer(edges, points)
	renderer.Headings = a.WithPoints
	if !a.WithPoints {
		renderer.DotRadius = 0
	}
	images := []struct {
		ext  string
		draw func(io.Writer) error
	}{
		{".svg", renderer.RenderToSVG},
		{".png", renderer.RenderToPNG},
	}
	for _, img := range images {
		if format != "all" && "."+format != img.ext {
			continue
		}
		path := base + img.ext
		if err := writeFile(path, img.draw); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Created: %s\n", path)
	}
	return nil
}

func writeFile(path string, draw func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	if err := draw(f); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return nil
}

// RunTagFrames assigns GeoPose documents to the frames of a recorded video
// using a sample log captured alongside it
func (a *App) RunTagFrames() error {
	if a.SampleLog == "" || a.FramesDir == "" {
		return errors.New("--samples and --frames are required for --tag-frames")
	}

	fps, err := pose.ParseFPS(a.FPS)
	if err != nil {
		return err
	}

	f, err := os.Open(a.SampleLog)
	if err != nil {
		return fmt.Errorf("opening sample log: %w", err)
	}
	defer f.Close()

	store := pose.NewStore(pose.DefaultCapacity)
	positions, orientations, err := pose.LoadSampleLog(f, store)
	if err != nil {
		return err
	}
	a.Log.Info("loaded sample log",
		zap.String("path", a.SampleLog),
		zap.Int("positions", positions),
		zap.Int("orientations", orientations))

	frames, err := listFrames(a.FramesDir)
	if err != nil {
		return err
	}

	videoBase := a.VideoBase
	if videoBase == "" {
		videoBase = filepath.Base(filepath.Clean(a.FramesDir))
	}

	summary, err := pose.TagFrames(store, pose.FrameJob{
		VideoBase:   videoBase,
		Frames:      frames,
		StartNs:     a.StartNs,
		FPS:         fps,
		ToleranceNs: a.ToleranceMs * int64(time.Millisecond),
		OutputDir:   a.OutputFile,
		WriteYPR:    a.WriteYPR,
	})
	if err != nil {
		return fmt.Errorf("tagging frames: %w", err)
	}

	fmt.Fprintf(a.Out, "framesTotal=%d geoposeWritten=%d skipped=%d\n",
		summary.FramesTotal, summary.GeoPoseWritten, summary.Skipped)
	return nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frames directory: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		frames = append(frames, filepath.Join(dir, e.Name()))
	}
	sort.Strings(frames)
	return frames, nil
}

// RunService runs MQTT ingestion, the rebuild ticker and the HTTP API until
// interrupted
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setupService(); err != nil {
		return err
	}
	defer a.Captures.Close()

	a.printServiceInfo()
	err := a.serve(ctx)

	a.Log.Info("shutting down service")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Config.Graph.PersistKeys {
		if serr := a.Tracker.SaveKeys(a.keysCachePath()); serr != nil {
			a.Log.Warn("saving dedup keys", zap.Error(serr))
		}
	}
	return err
}

func (a *App) keysCachePath() string {
	return a.resolvePath(a.Config.Storage.KeysCache, ".dedup-keys.json")
}

// setupService loads config and state and connects to the broker
func (a *App) setupService() error {
	cfg, err := a.loadConfig(true)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Tracker = survey.NewTrackerFromConfig(cfg)

	if cfg.Graph.PersistKeys {
		if err := a.Tracker.LoadKeys(a.keysCachePath()); err != nil {
			a.Log.Warn("ignoring unreadable dedup key cache", zap.Error(err))
		} else {
			a.Log.Info("loaded dedup keys", zap.Int("keys", a.Tracker.Keys().Len()))
		}
	}

	capturesPath := a.resolvePath(cfg.Storage.CapturesDB, "captures.db")
	a.Captures, err = survey.OpenCaptureStore(capturesPath)
	if err != nil {
		return err
	}
	stored, err := a.Captures.Count(context.Background())
	if err != nil {
		return err
	}
	a.Log.Info("opened capture store", zap.String("path", capturesPath), zap.Int("captures", stored))

	if a.MqttMode {
		client, err := survey.InitMQTT(cfg, a.mqttHandlers(), a.Log)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = client
		a.Publisher = survey.NewPublisher(client.GetClient(), cfg.MQTT.PublishPrefix, a.Log)
	}
	return nil
}

// mqttHandlers routes decoded MQTT messages into the tracker
func (a *App) mqttHandlers() survey.Handlers {
	return survey.Handlers{
		OnPosition: func(sourceID string, s pose.PositionSample) {
			if err := a.Tracker.AddPosition(sourceID, s); err != nil {
				a.Log.Warn("dropping position", zap.String("source", sourceID), zap.Error(err))
			}
		},
		OnOrientation: func(sourceID string, s pose.OrientationSample) {
			if err := a.Tracker.AddOrientation(sourceID, s); err != nil {
				a.Log.Warn("dropping orientation", zap.String("source", sourceID), zap.Error(err))
			}
		},
		OnCapture: func(sourceID string, c survey.Capture) {
			if _, err := a.ingestCapture(context.Background(), sourceID, c); err != nil {
				a.Log.Warn("capture not resolved",
					zap.String("source", sourceID),
					zap.Int64("captureNs", c.CaptureNs),
					zap.Error(err))
			}
		},
	}
}

// ingestCapture resolves a capture against its source's store, persists it
// and publishes its pose
func (a *App) ingestCapture(ctx context.Context, sourceID string, c survey.Capture) (survey.CaptureRecord, error) {
	rec, err := a.Tracker.ResolveCapture(sourceID, c, a.Config.Pose.ToleranceNs())
	if err != nil {
		return survey.CaptureRecord{}, err
	}
	if err := a.Captures.Insert(ctx, &rec); err != nil {
		return survey.CaptureRecord{}, err
	}

	a.Log.Debug("capture resolved",
		zap.String("id", rec.ID),
		zap.String("source", sourceID),
		zap.String("provenance", string(rec.Pose.Provenance)),
		zap.Int64("positionDeltaNs", rec.Pose.PositionDeltaNs))

	if a.Publisher != nil {
		// failures are queued for retry by the publisher
		_ = a.Publisher.PublishCapture(rec)
	}
	return rec, nil
}

// tick rebuilds the graph from all stored captures and publishes it
func (a *App) tick(ctx context.Context) (roadgraph.Result, error) {
	points, err := a.Captures.RoadPoints(ctx)
	if err != nil {
		return roadgraph.Result{}, err
	}
	res, err := a.Tracker.Rebuild(points)
	if err != nil {
		return roadgraph.Result{}, err
	}
	a.Log.Info("road graph rebuilt",
		zap.Int("points", len(points)),
		zap.Int("newEdges", len(res.Edges)),
		zap.Int("suppressed", res.Suppressed),
		zap.Int("keys", res.Keys.Len()))

	if a.Publisher != nil {
		a.Publisher.RetryPending()
		fc := roadgraph.ToGeoJSON(a.Tracker.Edges(), nil, a.Tracker.Normalizer(), roadgraph.ExportOptions{})
		_ = a.Publisher.PublishRoads(fc)
	}
	if a.Config.Graph.PersistKeys {
		if err := a.Tracker.SaveKeys(a.keysCachePath()); err != nil {
			a.Log.Warn("saving dedup keys", zap.Error(err))
		}
	}
	return res, nil
}

// serve runs the ticker and, when enabled, the HTTP server until ctx ends
func (a *App) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(a.Config.Graph.Tick())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := a.tick(ctx); err != nil {
					a.Log.Error("rebuild failed", zap.Error(err))
				}
			}
		}
	})

	if a.HttpMode {
		srv := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Tracker, a.Config.Pose.ToleranceNs(), a.ingestCapture, a.tick, a.Log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.Log.Info("starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, src := range a.Config.Sources {
			fmt.Fprintf(a.Out, "    - %s/{position,orientation,capture} (%s)\n", src.Topic, src.ID)
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s\n", a.Publisher.RoadsTopic())
		fmt.Fprintf(a.Out, "  Poses: %s\n", a.Publisher.PoseTopic("{sourceID}"))
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET  /health                 - Health check")
		fmt.Fprintln(a.Out, "  GET  /roads.geojson[?points=1] - Road graph as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /roads.svg, /roads.png  - Rendered road map")
		fmt.Fprintln(a.Out, "  GET  /roads.polyline         - Encoded polylines per surface")
		fmt.Fprintln(a.Out, "  GET  /pose?source=&t=        - Fused pose at a capture instant")
		fmt.Fprintln(a.Out, "  POST /samples/position, /samples/orientation, /captures ?source=")
		fmt.Fprintln(a.Out, "  POST /roads/rebuild          - Force a rebuild")
	}

	fmt.Fprintf(a.Out, "\nRebuilding every %s. Press Ctrl+C to stop\n", a.Config.Graph.Tick())
}
