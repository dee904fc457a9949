package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"speechlink-go/src/configs"
	"speechlink-go/src/core/adapter"
	"speechlink-go/src/core/audio"
	"speechlink-go/src/core/auth"
	"speechlink-go/src/core/events"
	"speechlink-go/src/core/session"
	"speechlink-go/src/core/transport/websocket"
	"speechlink-go/src/core/utils"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "speechlink-cli failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "yaml config path")
		audioFile  = flag.String("file", "", "wav or mp3 file to recognize")
		mode       = flag.String("mode", "", "interactive or continuous")
		endpoint   = flag.String("endpoint", "", "service websocket endpoint")
		key        = flag.String("key", "", "subscription key (or SPEECHLINK_KEY)")
	)
	flag.Parse()

	cfg, err := configs.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.Recognition.Mode = *mode
	}
	if *endpoint != "" {
		cfg.Service.Endpoint = *endpoint
	}
	if *key != "" {
		cfg.Service.Key = *key
	}
	if cfg.Service.Key == "" {
		cfg.Service.Key = os.Getenv("SPEECHLINK_KEY")
	}
	if cfg.Service.Endpoint == "" {
		cfg.Service.Endpoint = os.Getenv("SPEECHLINK_ENDPOINT")
	}
	if cfg.Service.Endpoint == "" {
		return fmt.Errorf("no service endpoint configured")
	}
	if *audioFile == "" {
		return fmt.Errorf("no audio file given (-file)")
	}

	logger, err := utils.NewLogger(&utils.LogCfg{LogLevel: cfg.Log.LogLevel})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus()
	source := audio.NewFileSource(*audioFile, logger)
	defer source.Close()

	provider := auth.NewStaticProvider(cfg.Service.Key)
	factory := websocket.NewFactory(cfg.Service.Endpoint, nil, logger, bus)

	adapterMode := adapter.ModeInteractive
	if cfg.Recognition.Mode == "continuous" {
		adapterMode = adapter.ModeContinuous
	}

	var strategy adapter.Strategy
	if len(cfg.Recognition.TargetLanguages) > 0 {
		strategy = adapter.NewTranslationStrategy(cfg.Service.Language, cfg.Recognition.TargetLanguages, "")
	} else {
		strategy = &adapter.SpeechStrategy{Language: cfg.Service.Language}
	}

	a := adapter.New(adapter.Config{
		Mode:       adapterMode,
		Language:   cfg.Service.Language,
		Properties: cfg.Properties.Clone(),
		Logger:     logger,
		Bus:        bus,
	}, strategy, source, provider, factory)
	defer a.Dispose("cli shutdown")

	callbacks := adapter.Callbacks{
		OnRecognizing: func(r *session.Result) {
			fmt.Printf("... %s\n", r.Text)
		},
		OnRecognized: func(r *session.Result) {
			fmt.Printf("==> %s\n", r.Text)
			for lang, text := range r.Translations {
				fmt.Printf("    [%s] %s\n", lang, text)
			}
		},
		OnCanceled: func(r *session.Result) {
			fmt.Printf("canceled: %s\n", r.ErrorDetails)
		},
	}

	if adapterMode == adapter.ModeInteractive {
		result, err := a.RecognizeOnce(ctx, callbacks)
		if err != nil {
			return err
		}
		if result.Reason == session.ReasonCanceled {
			return fmt.Errorf("recognition canceled: %s", result.ErrorDetails)
		}
		return nil
	}

	if err := a.StartRecognition(ctx, callbacks); err != nil {
		return err
	}
	<-ctx.Done()
	a.StopRecognition()
	return nil
}
