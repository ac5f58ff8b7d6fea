package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/q2demo/demorec/internal/catalog"
	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/demofs"
	"github.com/q2demo/demorec/internal/handlers"
	"github.com/q2demo/demorec/internal/playback"
	"github.com/q2demo/demorec/internal/recorder"
	"github.com/q2demo/demorec/pkg/core"
)

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return runConsole(ctx)
	}

	switch strings.ToLower(args[0]) {
	case "console":
		return runConsole(ctx)
	case "info":
		return cmdInfo(args[1:])
	case "play":
		return cmdPlay(ctx, args[1:])
	case "remux":
		return cmdRemux(ctx, args[1:])
	case "catalog":
		return cmdCatalog(ctx, args[1:])
	case "version":
		fmt.Printf("%s %s (%s)\n", ProgramName, CurrentVersion, BuildDate)
		return nil
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdInfo(paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: info <demo>...", handlers.ErrUsage)
	}

	dir := config.GetDemoConfig().Dir
	for _, name := range paths {
		path, err := demofs.Find(dir, name)
		if err != nil {
			return err
		}
		d, err := catalog.Inspect(path)
		if err != nil {
			return fmt.Errorf("couldn't read %s: %w", path, err)
		}

		fmt.Printf("%s:\n", d.Path)
		fmt.Printf("  %s\n", strings.ReplaceAll(handlers.FormatInfo(core.DemoInfo{Map: d.Map, POV: d.POV, MVD: d.MVD}), "\n", "\n  "))
		fmt.Printf("  Format: %s, %s compression\n", d.Format, d.Compression)
		fmt.Printf("  Size:   %s\n", humanize.Bytes(uint64(d.Size)))
	}
	return nil
}

// tickUntilDone runs the playback as fast as possible, or at the server
// frame rate when realtime is set.
func tickUntilDone(ctx context.Context, svc *handlers.Service, realtime bool) error {
	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(core.FrameTime * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}

	for svc.Playback() != nil {
		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
		if ctx.Err() != nil {
			svc.StopPlayback()
			return ctx.Err()
		}
		if err := svc.Tick(core.FrameTime); err != nil {
			return err
		}
	}
	return nil
}

func newCLIService(s *sinks) *handlers.Service {
	return handlers.NewService(handlers.Dependencies{
		Logger: Logger,
		Demo:   config.GetDemoConfig(),
		Stats:  s.Stats,
		Relay:  s.RelaySink(),
		Out:    os.Stdout,

		LogContext: DemoCtx,
	})
}

func cmdPlay(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("play", pflag.ContinueOnError)
	seeks := fs.StringArray("seek", nil, "seek to [+-]<timespec> after the level starts; repeatable")
	timedemo := fs.Bool("timedemo", config.GetDemoConfig().TimeDemo, "play one message per tick and report the frame rate")
	realtime := fs.Bool("realtime", false, "play at the server frame rate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: play [--seek t]... <demo>", handlers.ErrUsage)
	}

	sinks := openSinks(ctx)
	defer sinks.Close()
	svc := newCLIService(sinks)

	demoCfg := config.GetDemoConfig()
	err := svc.Play(fs.Arg(0), playback.Options{
		Snaps:    demoCfg.Snaps,
		TimeDemo: *timedemo,
	})
	if err != nil {
		return err
	}

	for _, spec := range *seeks {
		frame, err := svc.Seek(spec)
		if err != nil {
			return fmt.Errorf("seek %s: %w", spec, err)
		}
		fmt.Printf("Seeked to %s\n", playback.FormatFrames(frame))
	}

	start := time.Now()
	if err := tickUntilDone(ctx, svc, *realtime); err != nil {
		return err
	}
	fmt.Printf("Played %s in %s\n", fs.Arg(0), time.Since(start).Round(time.Millisecond))
	return nil
}

type statsFunc func(context.Context, recorder.Stats) error

func (f statsFunc) WriteRecording(ctx context.Context, st recorder.Stats) error {
	return f(ctx, st)
}

func cmdRemux(ctx context.Context, args []string) error {
	demoCfg := config.GetDemoConfig()

	fs := pflag.NewFlagSet("remux", pflag.ContinueOnError)
	gzip := fs.BoolP("compress", "z", false, "compress the output with gzip")
	zstd := fs.Bool("zstd", false, "compress the output with zstd")
	format := fs.String("format", "", "output format: vanilla or extended (default from demo.format)")
	msgLen := fs.Int("msglen", demoCfg.MsgLen, "record size budget")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 || (*gzip && *zstd) {
		return fmt.Errorf("%w: remux [-z|--zstd] [--format f] [--msglen n] <in> <out>", handlers.ErrUsage)
	}

	opts := recorder.Options{
		Format: handlers.FormatFor(demoCfg.Format),
		MsgLen: *msgLen,
	}
	switch *format {
	case "":
	case demofile.FormatVanilla.String():
		opts.Format = demofile.FormatVanilla
	case demofile.FormatExtended.String():
		opts.Format = demofile.FormatExtended
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	switch {
	case *gzip:
		opts.Compression = demofs.Gzip
	case *zstd:
		opts.Compression = demofs.Zstd
	}

	sinks := openSinks(ctx)
	defer sinks.Close()

	report := statsFunc(func(_ context.Context, st recorder.Stats) error {
		fmt.Printf("Wrote %s (%s)\n", st.Name, recorder.FormatStatus(st))
		return nil
	})
	stats := recorder.MultiSink{report}
	if sinks.Stats != nil {
		stats = append(stats, sinks.Stats)
	}

	svc := handlers.NewService(handlers.Dependencies{
		Logger: Logger,
		Demo:   demoCfg,
		Stats:  stats,
		Out:    os.Stdout,

		LogContext: DemoCtx,
	})

	if err := svc.Play(fs.Arg(0), playback.Options{}); err != nil {
		return err
	}
	if _, err := svc.Record(fs.Arg(1), opts); err != nil {
		svc.StopPlayback()
		return err
	}
	return tickUntilDone(ctx, svc, false)
}

func cmdCatalog(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: catalog scan|list|recordings", handlers.ErrUsage)
	}

	cfg := config.GetCatalogConfig()
	c, err := catalog.Open(cfg, ZLog)
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "scan":
		dir := config.GetDemoConfig().Dir
		if len(args) > 1 {
			dir = args[1]
		}
		res, err := c.Scan(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Printf("%d added, %d updated, %d unchanged, %d unreadable\n", res.Added, res.Updated, res.Unchanged, res.Failed)
		return nil

	case "list":
		fs := pflag.NewFlagSet("catalog list", pflag.ContinueOnError)
		mapName := fs.String("map", "", "only demos of this map")
		pov := fs.String("pov", "", "only demos from this player's view")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		demos, err := c.List(ctx, catalog.Filter{Map: *mapName, POV: *pov})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tMAP\tPOV\tFORMAT\tSIZE\tMODIFIED")
		for _, d := range demos {
			view := d.POV
			if d.MVD {
				view = "(mvd)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Path, d.Map, view, d.Format, humanize.Bytes(uint64(d.Size)), humanize.Time(d.ModTime))
		}
		return w.Flush()

	case "recordings":
		fs := pflag.NewFlagSet("catalog recordings", pflag.ContinueOnError)
		since := fs.Duration("since", 7*24*time.Hour, "how far back to list")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		recs, err := c.Recordings(ctx, time.Now().Add(-*since))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tNAME\tFORMAT\tFRAMES\tDROPPED\tSIZE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", humanize.Time(r.Started), r.Name, r.Format, r.FramesWritten, r.FramesDropped, humanize.Bytes(uint64(r.Bytes)))
		}
		return w.Flush()

	default:
		return fmt.Errorf("%w: catalog scan|list|recordings", handlers.ErrUsage)
	}
}
