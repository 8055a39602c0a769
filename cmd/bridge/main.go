package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/parquet-arrow-bridge/bridge"
	"Shopify/parquet-arrow-bridge/config"
	"Shopify/parquet-arrow-bridge/engine"
	"Shopify/parquet-arrow-bridge/storage"
)

type Options struct {
	// Path to the YAML configuration file.
	ConfigFile string
	// Enable debug logging.
	Debug bool
	// Address to expose metrics on.
	MetricsAddr string

	// Object to read.
	Input string
	// Object to write.
	Output string
	// Number of partitions of decoded datasets. Zero uses the configured value.
	Partitions int
	// Prefix to collect streams from.
	Prefix string
	// Read streams straight from this GCS bucket instead of the configured storage.
	GCSBucket string
	// Max age of a stream to merge. Zero merges all streams.
	MaxAge time.Duration
}

type commands struct {
	encode  *kingpin.CmdClause
	decode  *kingpin.CmdClause
	inspect *kingpin.CmdClause
	merge   *kingpin.CmdClause
}

func main() {
	app := kingpin.New("bridge", "Move row datasets between parquet files and arrow IPC streams.")
	opts := Options{}
	cmds := (&opts).BindFlags(app)
	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Log, opts.Debug)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if opts.MetricsAddr != "" {
		go serveMetrics(logger, reg, opts.MetricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := newEnv(ctx, cfg, logger, reg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to set up", "err", err)
		os.Exit(1)
	}

	switch cmd {
	case cmds.encode.FullCommand():
		err = env.encode(ctx, opts.Input, opts.Output)
	case cmds.decode.FullCommand():
		err = env.decode(ctx, opts.Input, opts.Output, opts.Partitions)
	case cmds.inspect.FullCommand():
		err = env.inspect(ctx, os.Stdout, opts.Input)
	case cmds.merge.FullCommand():
		err = env.mergeStreams(ctx, opts.Prefix, opts.Output, opts.GCSBucket, opts.MaxAge)
	}
	if err != nil {
		level.Error(logger).Log("msg", "command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

func (o *Options) BindFlags(app *kingpin.Application) commands {
	app.Flag("config.file", "The path to the YAML configuration file.").
		Default("").StringVar(&o.ConfigFile)
	app.Flag("debug", "Enable debug logging.").BoolVar(&o.Debug)
	app.Flag("metrics-addr", "Address to expose metrics on. Empty disables the endpoint.").
		Default("").StringVar(&o.MetricsAddr)

	var cmds commands
	cmds.encode = app.Command("encode", "Encode a parquet object into an arrow stream, one partition per row group.")
	cmds.encode.Flag("input", "The parquet object to read.").Required().StringVar(&o.Input)
	cmds.encode.Flag("output", "The stream object to write.").Required().StringVar(&o.Output)

	cmds.decode = app.Command("decode", "Decode an arrow stream into a parquet object.")
	cmds.decode.Flag("input", "The stream object to read.").Required().StringVar(&o.Input)
	cmds.decode.Flag("output", "The parquet object to write.").Required().StringVar(&o.Output)
	cmds.decode.Flag("partitions", "Number of partitions to decode with.").Default("0").IntVar(&o.Partitions)

	cmds.inspect = app.Command("inspect", "Print the schema and size of a stream or parquet object.")
	cmds.inspect.Flag("input", "The object to inspect.").Required().StringVar(&o.Input)

	cmds.merge = app.Command("merge", "Decode every stream under a prefix into a single parquet object.")
	cmds.merge.Flag("prefix", "The prefix to collect streams from.").Required().StringVar(&o.Prefix)
	cmds.merge.Flag("output", "The parquet object to write.").Required().StringVar(&o.Output)
	cmds.merge.Flag("gcs-bucket", "Read streams from this GCS bucket.").Default("").StringVar(&o.GCSBucket)
	cmds.merge.Flag("max-age", "Max age of a stream to merge.").Default("0s").DurationVar(&o.MaxAge)

	return cmds
}

func newLogger(cfg config.LogConfig, debug bool) log.Logger {
	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}

	allowed := level.AllowInfo()
	switch {
	case debug || cfg.Level == "debug":
		allowed = level.AllowDebug()
	case cfg.Level == "warn":
		allowed = level.AllowWarn()
	case cfg.Level == "error":
		allowed = level.AllowError()
	}
	logger = level.NewFilter(logger, allowed)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func serveMetrics(logger log.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	level.Info(logger).Log("msg", "serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Error(logger).Log("msg", "metrics server stopped", "err", err)
	}
}

func newEnv(ctx context.Context, cfg *config.Config, logger log.Logger, reg prometheus.Registerer) (*env, error) {
	bucket, err := storage.NewBucket(ctx, logger, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s, err := cfg.ParseSchema()
	if err != nil {
		return nil, err
	}

	progress := &progress{}
	e := engine.New(
		engine.WithParallelism(cfg.Engine.Parallelism),
		engine.WithLogger(logger),
		engine.WithTaskObserver(progress.taskDone),
	)
	b, err := bridge.New(e, cfg.BridgeOptions(), logger, reg)
	if err != nil {
		return nil, err
	}
	return &env{
		bucket:     bucket,
		bridge:     b,
		schema:     s,
		partitions: cfg.Engine.Partitions,
		progress:   progress,
		logger:     logger,
	}, nil
}
