package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sarchlab/servertiming/demo"
	"github.com/sarchlab/servertiming/guard"
	"github.com/sarchlab/servertiming/middleware"
	"github.com/sarchlab/servertiming/monitoring"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/timingheader"
	"github.com/sarchlab/servertiming/tracking"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"
)

type serveConfig struct {
	addr          string
	monitorAddr   string
	openMonitor   bool
	maxMemory     uint64
	guardInterval time.Duration
	overwrite     timingheader.OverwriteBehavior
	emptyHeader   bool
	logLevel      string
	idGenerator   tracking.IDGenerator
	corsOrigins   []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demo routes with Server-Timing enabled.",
	Long: "`serve` serves / and /sleep?sleep_time_seconds=S. Responses carry " +
		"the time spent parsing, in the route, and encoding the response.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := parseServeConfig(cmd)
		if err != nil {
			return err
		}

		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("addr", ":8080", "Address of the demo server.")
	f.String("monitor-addr", "",
		"Address of the monitoring API. Empty disables monitoring.")
	f.Bool("open-monitor", false, "Open the monitoring API in a browser.")
	f.Uint64("max-profiler-mem", guard.DefaultThreshold,
		"Size of the event buffer, in bytes, over which it is cleared.")
	f.Duration("guard-interval", 0,
		"Also check the event buffer on this interval. 0 checks on requests only.")
	f.String("overwrite", "none",
		"How to treat an existing Server-Timing header: none, replace, or retain.")
	f.Bool("empty-header", false,
		"Send an empty Server-Timing header when no group matched.")
	f.String("log-level", "info", "Log level: debug, info, warn, or error.")
	f.String("id-generator", "sequential",
		"Request context IDs: sequential, parallel, or uuid.")
	f.StringSlice("cors-origins", nil,
		"Origins allowed to read the Server-Timing header cross-origin.")
}

func parseServeConfig(cmd *cobra.Command) (serveConfig, error) {
	f := cmd.Flags()
	cfg := serveConfig{}

	cfg.addr, _ = f.GetString("addr")
	cfg.monitorAddr, _ = f.GetString("monitor-addr")
	cfg.openMonitor, _ = f.GetBool("open-monitor")
	cfg.maxMemory, _ = f.GetUint64("max-profiler-mem")
	cfg.guardInterval, _ = f.GetDuration("guard-interval")
	cfg.emptyHeader, _ = f.GetBool("empty-header")
	cfg.logLevel, _ = f.GetString("log-level")
	cfg.corsOrigins, _ = f.GetStringSlice("cors-origins")

	overwrite, _ := f.GetString("overwrite")
	behavior, err := timingheader.ParseOverwriteBehavior(overwrite)
	if err != nil {
		return cfg, err
	}
	cfg.overwrite = behavior

	generator, _ := f.GetString("id-generator")
	cfg.idGenerator, err = parseIDGenerator(generator)
	if err != nil {
		return cfg, err
	}

	if _, err := levelOption(cfg.logLevel); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseIDGenerator(name string) (tracking.IDGenerator, error) {
	switch strings.ToLower(name) {
	case "", "sequential":
		return tracking.NewSequentialIDGenerator(), nil
	case "parallel":
		return tracking.NewParallelIDGenerator(), nil
	case "uuid":
		return tracking.NewUUIDGenerator(), nil
	default:
		return nil, errors.Errorf(
			"id generator must be one of sequential, parallel, or uuid, got %q",
			name)
	}
}

func levelOption(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, errors.Errorf(
			"log level must be one of debug, info, warn, or error, got %q", name)
	}
}

func newLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	option, err := levelOption(logLevel)
	if err != nil {
		option = level.AllowInfo()
	}

	return level.NewFilter(logger, option)
}

// server holds everything that serve wires together.
type server struct {
	recorder   *recording.Recorder
	middleware *middleware.Middleware
	handler    http.Handler
	monitor    *monitoring.Monitor
}

func newServer(cfg serveConfig, logger log.Logger) *server {
	recorder := recording.NewRecorder(nil)
	recorder.AcceptHook(recording.NewLogHook(logger))

	app := demo.NewApp(recorder)

	tracker := tracking.MakeBuilder().
		WithIDGenerator(cfg.idGenerator).
		WithTimeTeller(recorder).
		Build()

	m := middleware.MakeBuilder().
		WithSource(recorder).
		WithGroups(app.Groups()).
		WithTracker(tracker).
		WithMaxMemory(cfg.maxMemory).
		WithOverwriteBehavior(cfg.overwrite).
		WithEmptyHeader(cfg.emptyHeader).
		WithLogger(logger).
		Build()

	router := mux.NewRouter()
	router.Use(m.Wrap)
	app.Routes(router)

	var handler http.Handler = router
	if len(cfg.corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.corsOrigins,
			AllowedMethods: []string{http.MethodGet},
			ExposedHeaders: []string{timingheader.HeaderName},
		}).Handler(router)
	}

	monitor := monitoring.NewMonitor(logger)
	monitor.RegisterSource(recorder, m.Guard())
	monitor.RegisterTracker(tracker)
	monitor.RegisterGroups(m.Groups())

	return &server{
		recorder:   recorder,
		middleware: m,
		handler:    handler,
		monitor:    monitor,
	}
}

func serve(ctx context.Context, cfg serveConfig) error {
	logger := newLogger(cfg.logLevel)
	s := newServer(cfg, logger)

	if err := s.recorder.Start(); err != nil {
		return errors.Wrap(err, "start recorder")
	}
	atexit.Register(s.recorder.Close)

	if cfg.monitorAddr != "" {
		url, err := s.monitor.StartServer(cfg.monitorAddr)
		if err != nil {
			return err
		}

		if cfg.openMonitor {
			if err := browser.OpenURL(url + "/api/recorder"); err != nil {
				level.Warn(logger).Log("msg", "cannot open browser", "err", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		level.Info(logger).Log("msg", "starting server", "addr", cfg.addr)

		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		level.Info(logger).Log("msg", "shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.guardInterval > 0 {
		g.Go(func() error {
			s.middleware.Guard().Run(gCtx, cfg.guardInterval)
			return nil
		})
	}

	return g.Wait()
}
