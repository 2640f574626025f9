// ABOUTME: Entry point for the WorldGPT character server
// ABOUTME: Cobra commands to serve, seed the configuration and query a running server

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/worldgpt/internal/about"
	"github.com/2389/worldgpt/internal/config"
	"github.com/2389/worldgpt/internal/gateway"
)

const banner = `
                    _     _  ____ ____ _____
__      _____  _ __| | __| |/ ___|  _ \_   _|
\ \ /\ / / _ \| '__| |/ _' | |  _| |_) || |
 \ V  V / (_) | |  | | (_| | |_| |  __/ | |
  \_/\_/ \___/|_|  |_|\__,_|\____|_|    |_|
`

// configPath is the --config flag. The WORLDGPT_CONFPATH variable wins over it.
var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worldgpt-server",
		Short:         about.Title + " character server",
		Version:       fmt.Sprintf("%s (%s)", about.Version, about.Tag),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"configuration document (default "+config.DefaultPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default configuration document if none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInit(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check the health of a running server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHealth(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "characters",
			Short: "List the characters held by a running server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCharacters(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)
	return root
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    %s %s (%s)\n\n", about.Title, about.Version, about.Tag)

	env, err := config.ParseEnv()
	if err != nil {
		return err
	}

	// The configuration subsystem logs before the document says how to log.
	bootLogger := setupLogger(config.LoggingConfig{Level: "info"}, os.Stdout)
	conf := config.NewConfiguration(env, configPath, bootLogger)
	if err := conf.Bootstrap(ctx); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := conf.Snapshot()

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", conf.Path())
	green.Print("    ▶ ")
	fmt.Printf("Datastore: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.API.Addr())
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.LLM.Model)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting "+about.Title,
		"version", about.Version,
		"config", conf.Path(),
		"http_addr", cfg.API.Addr())

	gw, err := gateway.New(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runInit seeds the configuration document and reports where it lives.
func runInit(ctx context.Context, out io.Writer) error {
	env, err := config.ParseEnv()
	if err != nil {
		return err
	}

	conf := config.NewConfiguration(env, configPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	exists, err := conf.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		fmt.Fprintf(out, "Configuration already exists: %s\n", conf.Path())
		return nil
	}
	if err := conf.FirstRun(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote default configuration: %s\n", conf.Path())
	return nil
}

// serverURL builds the base URL of the server the configuration describes.
func serverURL() (string, error) {
	env, err := config.ParseEnv()
	if err != nil {
		return "", err
	}
	cfg, err := config.Resolve(env, configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}

	host := cfg.API.ListenHost
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.API.ListenPort), nil
}

func get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runHealth(ctx context.Context, out io.Writer) error {
	base, err := serverURL()
	if err != nil {
		return err
	}

	if _, status, err := get(ctx, base+"/health"); err != nil {
		return err
	} else if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	body, status, err := get(ctx, base+"/health/ready")
	if err != nil {
		return err
	}
	var ready gateway.ReadyResponse
	if err := json.Unmarshal(body, &ready); err != nil {
		return fmt.Errorf("parsing readiness: %w", err)
	}

	fmt.Fprintf(out, "%s (uptime %s, pending %d, dead letters %d)\n",
		ready.Status, ready.Uptime, ready.Pending, ready.DeadLetters)
	if status != http.StatusOK {
		return fmt.Errorf("not ready: status %d", status)
	}
	return nil
}

func runCharacters(ctx context.Context, out io.Writer) error {
	base, err := serverURL()
	if err != nil {
		return err
	}

	body, status, err := get(ctx, base+"/characters")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing characters: status %d", status)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(body, &all); err != nil {
		return fmt.Errorf("parsing characters: %w", err)
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(out, "No characters.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}
