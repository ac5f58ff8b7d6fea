package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/dispatcher"
	"github.com/q2demo/demorec/internal/handlers"
	"github.com/q2demo/demorec/internal/logging"
	intOtel "github.com/q2demo/demorec/internal/otel"
	"github.com/q2demo/demorec/pkg/core"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	ProgramName string = "demorec"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLog logs for the dispatcher and the catalog
	ZLog zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	LogFile     *os.File

	SessionStartTime time.Time = time.Now()
	SessionID        string    = uuid.NewString()

	// DemoCtx names the active demos in every log record
	DemoCtx *logging.DemoContext = logging.NewDemoContext(SessionID)
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] [command]

Commands:
  console                     interactive console (default)
  info <demo>...              print demo header info
  play [--seek t]... <demo>   play a demo headless
  remux [flags] <in> <out>    play a demo and record it again
  catalog scan [dir]          index the demos below dir
  catalog list [--map m]      list indexed demos
  catalog recordings          list recording statistics
  version                     print the version

Flags:
`, ProgramName)
	pflag.PrintDefaults()
}

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory holding "+config.FileName)
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = usage
	pflag.Parse()

	if err := setup(*configDir, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, pflag.Args())
	stop()
	shutdown()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logging pipeline.
func setup(configDir, levelOverride string) error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logCfg := config.GetLoggingConfig()
	if levelOverride != "" {
		logCfg.Level = levelOverride
	}

	if err := os.MkdirAll(logCfg.Dir, 0755); err != nil {
		return fmt.Errorf("couldn't create logs directory: %w", err)
	}
	LogFilePath = logging.LogFilePath(logCfg.Dir, ProgramName, SessionStartTime)

	// keep the previous log of the same second
	if _, err := os.Stat(LogFilePath); err == nil {
		os.Rename(LogFilePath, LogFilePath+".old")
	}

	var fileOut io.Writer
	logOut := io.Writer(os.Stderr)
	file, err := os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
	} else {
		LogFile = file
		fileOut = file
		logOut = file
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(context.Background(), intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    fileOut,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	if logCfg.GraylogEnabled {
		if err := SlogManager.EnableGraylog(logCfg.GraylogAddress); err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", logCfg.GraylogAddress)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Context = DemoCtx.Attrs
	SlogManager.Setup(fileOut, logCfg.Level, otelLogProvider)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	ZLog = logging.NewZerolog(logOut, logCfg.Level)

	Logger.Info("Starting up", "version", CurrentVersion, "buildDate", BuildDate, "log", LogFilePath)
	return nil
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to flush logs:", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to shut down OTel:", err)
		}
	}
	if err := SlogManager.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to close Graylog:", err)
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

// runConsole reads commands from stdin and ticks the demo sessions at the
// server frame rate until quit or ctx ends.
func runConsole(ctx context.Context) error {
	sinks := openSinks(ctx)
	defer sinks.Close()

	svc := handlers.NewService(handlers.Dependencies{
		Logger: Logger,
		Demo:   config.GetDemoConfig(),
		Stats:  sinks.Stats,
		Relay:  sinks.RelaySink(),
		Out:    os.Stdout,

		LogContext: DemoCtx,
	})

	d, err := dispatcher.New(logging.NewDispatcherLogger(ZLog))
	if err != nil {
		return fmt.Errorf("couldn't create dispatcher: %w", err)
	}
	defer d.Close()
	svc.Register(d)

	quit := make(chan struct{})
	var quitOnce sync.Once
	d.Register("quit", func(dispatcher.Event) (any, error) {
		quitOnce.Do(func() { close(quit) })
		return nil, nil
	})
	d.Register("version", func(dispatcher.Event) (any, error) {
		return fmt.Sprintf("%s %s (%s)", ProgramName, CurrentVersion, BuildDate), nil
	})
	d.Register("help", func(dispatcher.Event) (any, error) {
		return strings.Join(d.Commands(), " "), nil
	})

	go readConsole(os.Stdin, svc)

	ticker := time.NewTicker(core.FrameTime * time.Millisecond)
	defer ticker.Stop()
	last := time.Now()

	Logger.Info("Console ready")
	for {
		select {
		case <-ctx.Done():
			Logger.Info("Interrupted, shutting down")
			svc.StopPlayback()
			return nil
		case <-quit:
			svc.StopPlayback()
			return nil
		case now := <-ticker.C:
			msec := int(now.Sub(last) / time.Millisecond)
			last = now
			if err := svc.Tick(msec); err != nil {
				fmt.Println("Demo playback stopped:", err)
			}
		}
	}
}

func readConsole(r io.Reader, svc *handlers.Service) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		svc.Enqueue(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		Logger.Warn("Console input failed", "error", err)
	}
}
