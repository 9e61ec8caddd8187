package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/config"
	"maxwell-cdc/internal/format"
	"maxwell-cdc/internal/metrics"
	"maxwell-cdc/internal/processor"
)

// CLI is the command line of maxwell-cdc
type CLI struct {
	Config   string `arg:"" optional:"" default:"config.yaml" help:"Path to the YAML configuration file."`
	LogLevel string `name:"log-level" help:"Override logging.level (trace, debug, info, warn, error)."`
	Check    bool   `help:"Load the configuration, resolve the row schema, build the format and exit."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("maxwell-cdc"),
		kong.Description("Translate Maxwell JSON change messages into row change events."),
		kong.ShortUsageOnError(),
	)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	if err := run(cli, logger); err != nil {
		logger.Fatalf("maxwell-cdc: %v", err)
	}
}

func run(cli CLI, logger *logrus.Logger) error {
	cfg, err := config.LoadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configureLogger(logger, cfg.Logging, cli.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rowType, err := resolveRowType(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Infof("Row schema: %s", rowType)

	translator, err := format.NewDecodingFormat(cfg.Format, rowType)
	if err != nil {
		return err
	}
	encoder, err := format.NewEncodingFormat(encodingOptions(cfg.Format), rowType)
	if err != nil {
		return err
	}
	if err := processor.ValidateRules(&cfg.Processor); err != nil {
		return fmt.Errorf("invalid processor configuration: %w", err)
	}

	if cli.Check {
		logger.Infof("Configuration OK: %s format with options %v", format.Identifier, translator.Options().Map())
		return nil
	}

	logger.Info("Starting Maxwell CDC service...")

	reader, err := newSource(cfg.Source, logger)
	if err != nil {
		return err
	}
	defer reader.Close()

	publisher, err := newSink(cfg.Sink, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	transformer, err := processor.NewTransformer(&cfg.Processor, logger, publisher.natsConn())
	if err != nil {
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	opts := processor.Options{
		Transformer: transformer,
		SinkFormat:  cfg.Sink.Format,
		Metrics:     metrics.New(),
	}
	if cfg.Checkpoint.PositionFile != "" {
		store, err := newCheckpoint(cfg.Checkpoint.PositionFile, logger)
		if err != nil {
			return err
		}
		opts.Checkpoint = store
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := opts.Metrics.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, logger); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	proc := processor.NewProcessor(reader, publisher, translator, encoder, opts, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- proc.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("processor error: %w", err)
		}
	}

	logger.Info("Maxwell CDC service stopped")
	return nil
}

func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig, override string) error {
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	name := cfg.Level
	if override != "" {
		name = override
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	logger.SetLevel(level)
	return nil
}

// encodingOptions keeps the format options the encoder understands
func encodingOptions(options map[string]string) map[string]string {
	out := make(map[string]string)
	for _, key := range []string{format.OptTimestampFormat, format.OptMapNullKeyMode, format.OptMapNullKeyLiteral} {
		if v, ok := options[key]; ok {
			out[key] = v
		}
	}
	return out
}
