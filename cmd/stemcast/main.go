package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/config"
	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/library"
	"github.com/stemcast/stemcast/internal/separate"
	"github.com/stemcast/stemcast/internal/stem"
	"github.com/stemcast/stemcast/internal/stream"
	"github.com/stemcast/stemcast/internal/ui"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "YAML stem manifest to load")
		dirPath      = flag.String("dir", "", "stem-set directory to load")
		stemJSON     = flag.String("stems", "", `JSON stem map, e.g. {"vocals":"v.wav","drums":"d.wav"}`)
		mixture      = flag.String("separate", "", "mixture file to run through the separation service first")
		headless     = flag.Bool("headless", false, "serve the HTTP API without the terminal UI")
	)
	flag.Parse()

	cfg := config.Load()
	log := newLogger(cfg.LogLevel, !*headless)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	refOrder, err := stem.ParseOrder(cfg.ReferenceOrder)
	if err != nil {
		log.Fatal().Err(err).Str("order", cfg.ReferenceOrder).Msg("bad reference order")
	}

	session := engine.NewSession(engine.Config{
		Quality:        cfg.HighQuality,
		ReferenceOrder: refOrder,
		MasterGain:     cfg.MasterGain,
		LoadYield:      cfg.LoadYield,
		SeekThreshold:  cfg.SeekThreshold,
		DeviceBuffer:   cfg.DeviceBuffer,
	}, engine.SpeakerOutput{}, log)
	go session.Run(ctx)

	lib := library.New(cfg.LibraryDir, log)

	manifest, ok, err := resolveManifest(ctx, cfg, log, lib, *manifestPath, *dirPath, *stemJSON, *mixture)
	if err != nil {
		log.Fatal().Err(err).Msg("resolving stems failed")
	}
	if ok {
		go func() {
			if err := session.Load(ctx, manifest); err != nil {
				log.Error().Err(err).Msg("load failed")
			}
		}()
	} else {
		log.Info().Str("library", cfg.LibraryDir).Msg("no song to load, waiting for one")
	}

	// monitor PCM fan-out for the MP3 and WebRTC feeds
	pcm := stream.NewPCMBroadcaster()
	go pcm.Run(ctx, session.Monitor().Frames())

	// spectrum frames for the TUI and the SSE feed
	pump := stream.NewPump(session, cfg.FrameInterval(), log)
	go pump.Run(ctx)
	spectrum := stream.NewBroadcaster[stream.Frame](8)
	go spectrum.Run(ctx, pump.Frames())

	if w, err := lib.Watch(); err == nil {
		defer w.Close()
		go func() {
			for song := range w.Events {
				log.Info().Str("song", song).Msg("library updated")
			}
		}()
	} else {
		log.Warn().Err(err).Str("dir", cfg.LibraryDir).Msg("library watch unavailable")
	}

	srv := stream.NewServer(session, pcm, spectrum, log)
	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		httpServer.Close()
	}()

	if *headless {
		log.Info().Str("addr", addr).Msg("stemcast serving")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
		return
	}

	go func() {
		log.Info().Str("addr", addr).Msg("stemcast serving")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	if err := ui.Run(ui.New(session, spectrum, lib)); err != nil {
		log.Fatal().Err(err).Msg("terminal ui failed")
	}
	cancel()
}

// resolveManifest picks the stem source: an explicit flag wins, then the
// STEMCAST_STEMS env map, then the first library entry. ok is false when
// there is nothing to load.
func resolveManifest(ctx context.Context, cfg config.Config, log zerolog.Logger, lib *library.Library, manifestPath, dirPath, stemJSON, mixture string) (stem.Manifest, bool, error) {
	switch {
	case manifestPath != "":
		m, err := stem.LoadYAML(manifestPath)
		return m, err == nil, err
	case dirPath != "":
		m, err := stem.FromDir(dirPath)
		return m, err == nil, err
	case stemJSON != "":
		m, err := stem.ParseJSON([]byte(stemJSON))
		return m, err == nil, err
	case mixture != "":
		m, err := runSeparation(ctx, cfg, log, mixture)
		return m, err == nil, err
	case cfg.Stems != "":
		m, err := stem.ParseJSON([]byte(cfg.Stems))
		return m, err == nil, err
	}

	entries, err := lib.Scan()
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.LibraryDir).Msg("library scan failed")
		return stem.Manifest{}, false, nil
	}
	if len(entries) == 0 {
		return stem.Manifest{}, false, nil
	}
	return entries[0].Manifest, true, nil
}

// runSeparation submits the mixture to the separation service and blocks
// until the stems are ready.
func runSeparation(ctx context.Context, cfg config.Config, log zerolog.Logger, mixture string) (stem.Manifest, error) {
	client := separate.NewClient(cfg.SeparateURL, cfg.SeparateKey, cfg.LibraryDir, log)

	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer healthCancel()
	if err := client.WaitForHealthy(healthCtx); err != nil {
		return stem.Manifest{}, fmt.Errorf("separation service not available: %w", err)
	}

	jobID, err := client.Separate(ctx, mixture)
	if err != nil {
		return stem.Manifest{}, err
	}
	log.Info().Str("job", jobID).Msg("separating, this can take a while")

	pollCtx, pollCancel := context.WithTimeout(ctx, cfg.SeparateTimeout)
	defer pollCancel()
	return client.PollUntilDone(pollCtx, jobID, 2*time.Second)
}

// newLogger builds the process logger. The TUI owns the terminal, so
// interactive runs log to a file instead of stderr.
func newLogger(level string, tui bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := os.Stderr
	if tui {
		f, err := os.OpenFile("stemcast.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}
