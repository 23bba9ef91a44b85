package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/franckalain/freshness/internal/analysis"
	"github.com/franckalain/freshness/internal/api"
	"github.com/franckalain/freshness/internal/config"
	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/media"
	"github.com/franckalain/freshness/internal/render"
	"github.com/franckalain/freshness/internal/report"
	"github.com/franckalain/freshness/internal/server"
)

const usage = `usage: freshness [-config path] <command> [flags]

commands:
  serve     run the local web shell (default)
  analyze   analyze one image: analyze -image apple.jpg -produce apple
  health    check the prediction service
  items     list the produce types the service supports
`

// probeTimeout bounds health and items calls when api.timeout is disabled
const probeTimeout = 10 * time.Second

var errAnalysisFailed = errors.New("analysis failed")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errAnalysisFailed) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "freshness:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("freshness", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", config.GetConfigPath(), "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.API.BaseURL, &http.Client{}, log)

	cmd, rest := "serve", []string(nil)
	if fs.NArg() > 0 {
		cmd, rest = fs.Arg(0), fs.Args()[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx, cfg, client, log)
	case "analyze":
		return analyze(ctx, cfg, client, log, rest, stdout)
	case "health":
		return health(ctx, cfg, client, stdout)
	case "items":
		return items(ctx, cfg, client, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, cfg *config.Config, client *api.Client, log logger.Logger) error {
	srv := server.New(client, server.Options{
		StaticDir:     cfg.Server.StaticDir,
		Timeout:       cfg.API.Timeout,
		MaxImageBytes: cfg.Media.MaxImageBytes,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Addr())
	})
	g.Go(func() error {
		// an unreachable service is reported but does not stop the shell
		ctx, cancel := withProbeTimeout(gctx, cfg)
		defer cancel()
		h, err := client.Health(ctx)
		if err != nil {
			log.Warnf(gctx, "prediction service at %s is unavailable: %v", cfg.API.BaseURL, err)
			return nil
		}
		log.Infof(gctx, "prediction service is %s", h.Status)
		return nil
	})
	return g.Wait()
}

func analyze(ctx context.Context, cfg *config.Config, client *api.Client, log logger.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	imagePath := fs.String("image", "", "path to the produce photo")
	produceValue := fs.String("produce", "", "declared produce type, e.g. apple")
	asJSON := fs.Bool("json", false, "print the report view-model as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctrl := analysis.NewController(client,
		analysis.WithTimeout(cfg.API.Timeout),
		analysis.WithLogger(log))
	acq := media.NewAcquirer(ctrl, cfg.Media.MaxImageBytes, log)

	if *imagePath != "" {
		file, err := media.Open(*imagePath)
		if err != nil {
			return err
		}
		if _, err := acq.Pick(ctx, []media.File{file}); err != nil {
			return err
		}
	}
	if err := ctrl.SelectProduce(*produceValue); err != nil {
		return err
	}

	done, err := ctrl.Submit(ctx)
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		ctrl.Reset()
		return ctx.Err()
	}
	acq.Wait()

	snap := ctrl.Snapshot()
	vm := report.Project(snap.Report)
	if *asJSON && snap.Phase == analysis.Succeeded {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(vm); err != nil {
			return err
		}
	} else if err := render.Status(stdout, snap.Phase, snap.Message, vm); err != nil {
		return err
	}

	if snap.Phase == analysis.Failed {
		return errAnalysisFailed
	}
	return nil
}

// withProbeTimeout bounds a single call to the prediction service
func withProbeTimeout(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	d := cfg.API.Timeout
	if d <= 0 {
		d = probeTimeout
	}
	return context.WithTimeout(ctx, d)
}

func health(ctx context.Context, cfg *config.Config, client *api.Client, stdout io.Writer) error {
	ctx, cancel := withProbeTimeout(ctx, cfg)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s: %s\n", h.Status, h.Message)
	return err
}

func items(ctx context.Context, cfg *config.Config, client *api.Client, stdout io.Writer) error {
	ctx, cancel := withProbeTimeout(ctx, cfg)
	defer cancel()

	list, err := client.Items(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VALUE\tLABEL")
	for _, it := range list {
		fmt.Fprintf(tw, "%s\t%s\n", it.Value, it.Label)
	}
	return tw.Flush()
}
