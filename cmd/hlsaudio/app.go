package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agleyzer/hlsaudio/internal/config"
	"github.com/agleyzer/hlsaudio/internal/convert"
	"github.com/agleyzer/hlsaudio/internal/logging"
	"github.com/agleyzer/hlsaudio/internal/sink"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/agleyzer/hlsaudio/internal/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every command and override config values when set.
type globalFlags struct {
	configPath  string
	verbose     bool
	base        string
	concurrency int
	timeout     time.Duration
	retries     int
	padding     string
	headers     []string
	logFile     string
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&f.base, "base", "", "Base location for relative segment URIs")
	pf.IntVar(&f.concurrency, "concurrency", 0, "Number of segments fetched ahead")
	pf.DurationVar(&f.timeout, "timeout", 0, "Per-fetch timeout (e.g. 30s)")
	pf.IntVar(&f.retries, "retries", 0, "Extra attempts for failed fetches")
	pf.StringVar(&f.padding, "padding", "", "Padding removal after decryption: none, pkcs7 or auto")
	pf.StringArrayVarP(&f.headers, "header", "H", nil, "HTTP header 'Name: value' (repeatable)")
	pf.StringVar(&f.logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
}

// app holds what a command needs after configuration is resolved.
type app struct {
	cfg     *config.Config
	logger  hclog.Logger
	closer  io.Closer
	src     source.Source
	objects *minio.Client
}

func (a *app) Close() error {
	return a.closer.Close()
}

// converterOptions returns the conversion options derived from configuration.
func (a *app) converterOptions() convert.Options {
	return convert.Options{
		BaseLocation: a.cfg.Base,
		Concurrency:  a.cfg.Fetch.Concurrency,
		Padding:      a.cfg.Padding(),
	}
}

func (a *app) newConverter(progress func(done, total int)) *convert.Converter {
	opts := a.converterOptions()
	opts.Progress = progress
	return convert.New(a.src, opts, a.logger.Named("convert"))
}

func (a *app) sinkOptions(stdout io.Writer) sink.Options {
	opts := sink.Options{
		Stdout:      stdout,
		ContentType: a.cfg.Server.ContentType,
	}
	if a.objects != nil {
		opts.Objects = a.objects
	}
	return opts
}

// loadApp resolves configuration from file, environment and flags, then
// builds the logger and source stack.
func loadApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("base") {
		cfg.Base = flags.base
	}
	if changed("concurrency") {
		cfg.Fetch.Concurrency = flags.concurrency
	}
	if changed("timeout") {
		cfg.Fetch.Timeout = flags.timeout
	}
	if changed("retries") {
		cfg.Fetch.Retries = flags.retries
	}
	if changed("padding") {
		cfg.Decrypt.Padding = flags.padding
	}
	if changed("log-file") {
		cfg.Log.File = flags.logFile
	}
	if flags.verbose {
		cfg.Log.Level = "debug"
	}
	if len(flags.headers) > 0 {
		headers, err := parseHeaders(flags.headers)
		if err != nil {
			return nil, err
		}
		if cfg.Fetch.Headers == nil {
			cfg.Fetch.Headers = make(map[string]string)
		}
		for k, v := range headers {
			cfg.Fetch.Headers[k] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer, err := logging.New("hlsaudio", cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		closer: closer,
	}

	if cfg.Storage.Enabled() {
		a.objects, err = storage.NewClient(cfg.Storage)
		if err != nil {
			closer.Close()
			return nil, err
		}
	}

	a.src = source.New(source.Options{
		Timeout: cfg.Fetch.Timeout,
		Headers: cfg.Fetch.Headers,
		Retries: cfg.Fetch.Retries,
		Backoff: cfg.Fetch.RetryBackoff,
		Objects: a.objects,
	}, logger.Named("source"))

	logger.Debug("configuration loaded",
		"concurrency", cfg.Fetch.Concurrency,
		"timeout", cfg.Fetch.Timeout,
		"retries", cfg.Fetch.Retries,
		"padding", cfg.Decrypt.Padding,
		"base", cfg.Base,
		"object_storage", cfg.Storage.Enabled(),
	)

	return a, nil
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(list []string) (map[string]string, error) {
	headers := make(map[string]string, len(list))
	for _, h := range list {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
