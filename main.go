package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/kwv/roadmesh/logger"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	DataDir      string
	CapturesFile string
	OutputFile   string
	RenderFormat string
	WithPoints   bool
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	BuildOnly    bool
	TagFrames    bool

	SampleLog   string
	FramesDir   string
	VideoBase   string
	StartNs     int64
	FPS         string
	ToleranceMs int64
	WriteYPR    bool
}

// Runner is implemented by App; tests substitute a recorder
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunBuild() error
	RunTagFrames() error
	RunService() error
}

func main() {
	zl, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(os.Args[1:], os.Stdout, NewApp(zl)); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		zl.Fatal("roadmesh failed", zap.Error(err))
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("roadmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory for config, captures database and key cache")
	fs.StringVar(&opts.CapturesFile, "captures", "", "JSON export of capture records for --build (default: captures database)")
	fs.StringVar(&opts.OutputFile, "output", "roads.geojson", "Output file for --build, output directory for --tag-frames")
	fs.StringVar(&opts.RenderFormat, "format", "geojson", "Build output: geojson, svg, png or all")
	fs.BoolVar(&opts.WithPoints, "points", false, "Include road points and headings in --build output")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live sample ingestion")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server")
	fs.BoolVar(&opts.BuildOnly, "build", false, "Build the road graph from stored captures and exit")
	fs.BoolVar(&opts.TagFrames, "tag-frames", false, "Write GeoPose documents for extracted video frames and exit")
	fs.StringVar(&opts.SampleLog, "samples", "", "Sample log (JSON lines) for --tag-frames")
	fs.StringVar(&opts.FramesDir, "frames", "", "Directory of extracted frames for --tag-frames")
	fs.StringVar(&opts.VideoBase, "video", "", "Video base name used in frame ids (default: frames directory name)")
	fs.Int64Var(&opts.StartNs, "start-ns", 0, "Capture clock at the first frame")
	fs.StringVar(&opts.FPS, "fps", "1", "Frame extraction rate, e.g. 2 or 1/3")
	fs.Int64Var(&opts.ToleranceMs, "tolerance", 5000, "Frame pose tolerance in milliseconds")
	fs.BoolVar(&opts.WriteYPR, "ypr", false, "Also write yaw/pitch/roll GeoPose documents")

	if err := fs.Parse(args); err != nil {
		return err
	}
	// --tag-frames writes next to the frames unless -output is given explicitly
	if opts.TagFrames && !flagSet(fs, "output") {
		opts.OutputFile = ""
	}

	fmt.Fprintf(out, "roadmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.BuildOnly:
		return app.RunBuild()
	case opts.TagFrames:
		return app.RunTagFrames()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "roadmesh: no mode selected")
	fmt.Fprintln(out, "Use --build to build the road graph from stored captures")
	fmt.Fprintln(out, "Use --tag-frames to write GeoPose documents for video frames")
	fmt.Fprintln(out, "Use --mqtt to ingest live samples over MQTT")
	fmt.Fprintln(out, "Use --http to serve the road graph and poses over HTTP")
	fmt.Fprintln(out, "Use --mqtt --http to run both together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml      - MQTT, sources, pose and graph settings")
	fmt.Fprintln(out, "  .dedup-keys.json - Persistent dedup key set (cached)")
	return nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
