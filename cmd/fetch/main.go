package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	survey "github.com/AlecAivazis/survey/v2"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/cuemby/fetch/pkg/cache"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/metrics"
	"github.com/cuemby/fetch/pkg/platform"
	"github.com/cuemby/fetch/pkg/platform/github"
	"github.com/cuemby/fetch/pkg/resource"
	"github.com/cuemby/fetch/pkg/secrets"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/task"
	"github.com/cuemby/fetch/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fetch",
	Short: "fetch materializes remote resources onto the local filesystem",
	Long: `fetch is a package-manager-style tool: point it at a GitHub release,
branch, tag, commit, or release asset and it downloads or extracts it to a
destination directory, tracking what it wrote so a later "update" only
touches what actually changed and a "remove" cleans up exactly what it
created.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fetch version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for the tsk/res/src/dst sqlite store (default: ~/.local/share/fetch)")
	rootCmd.PersistentFlags().String("config-dir", "", "Directory for the fallback secrets file (default: os.UserConfigDir()/fetch)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Directory for the platform API cache (default: os.UserCacheDir()/fetch)")
	rootCmd.PersistentFlags().String("dest", ".", "Destination directory resources are materialized into")
	rootCmd.PersistentFlags().Int("concurrency", 4, "Number of resources to process concurrently")
	rootCmd.PersistentFlags().String("github-token", "", "GitHub API token (overrides the stored secret)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve /metrics, /health, /ready and /live on while the task runs (default: disabled)")
	rootCmd.PersistentFlags().Bool("debug", false, "Abort at the first resource failure with a stack trace instead of aggregating failures")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if debug, _ := rootCmd.PersistentFlags().GetBool("debug"); debug {
		logLevel = string(log.DebugLevel)
	}
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var downloadCmd = &cobra.Command{
	Use:   "download <resource> [resource...]",
	Short: "Download one file per resource",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAction(types.ActionDownload),
}

var extractCmd = &cobra.Command{
	Use:   "extract <resource> [resource...]",
	Short: "Extract an archive resource member by member",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAction(types.ActionExtract),
}

var installCmd = &cobra.Command{
	Use:   "install <resource> [resource...]",
	Short: "Install a resource via a type-specific adapter",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAction(types.ActionInstall),
}

var updateCmd = &cobra.Command{
	Use:   "update <pattern> [pattern...]",
	Short: "Re-run the stored action for every resource matching a glob",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAction(types.ActionUpdate),
}

var removeCmd = &cobra.Command{
	Use:   "remove <pattern> [pattern...]",
	Short: "Delete every resource matching a glob, and what it wrote",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAction(types.ActionRemove),
}

func init() {
	for _, cmd := range []*cobra.Command{downloadCmd, extractCmd, installCmd, updateCmd} {
		cmd.Flags().Bool("force", false, "Bypass the existing-resource or user-modification guard")
	}
	removeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")

	for _, cmd := range []*cobra.Command{downloadCmd, extractCmd, installCmd} {
		cmd.Flags().Int("strip-components", 0, "Override the number of leading path components stripped from archive members")
		cmd.Flags().Bool("trusted", false, "Allow archive members to escape the destination directory")
	}
}

func runAction(op types.Action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if op == types.ActionRemove && !force {
			confirmed, err := confirmRemoval(args)
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("removal aborted")
			}
		}

		dataDir, err := resolveDir(cmd, "data-dir", func() (string, error) {
			home, err := homedir.Dir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, ".local", "share", "fetch"), nil
		})
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		configDir, err := resolveDir(cmd, "config-dir", func() (string, error) {
			base, err := os.UserConfigDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, "fetch"), nil
		})
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		cacheDir, err := resolveDir(cmd, "cache-dir", func() (string, error) {
			base, err := os.UserCacheDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, "fetch"), nil
		})
		if err != nil {
			return fmt.Errorf("resolve cache dir: %w", err)
		}

		destRoot, _ := cmd.Flags().GetString("dest")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		githubToken, _ := cmd.Flags().GetString("github-token")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		debug, _ := cmd.Flags().GetBool("debug")

		st, err := store.Open(filepath.Join(dataDir, "fetch.db"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if metricsAddr != "" {
			stopMetrics := serveMetrics(metricsAddr, st)
			defer stopMetrics()
		}

		c, err := cache.Open(filepath.Join(cacheDir, "cache.db"))
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer c.Close()

		secretStore := secrets.Open(filepath.Join(configDir, "secrets.json"))
		if githubToken == "" {
			if token, ok, err := secretStore.Get("github"); err == nil && ok {
				githubToken = token
			}
		}

		platform.Register("github", github.New(githubToken, c))

		arguments, err := resourceArguments(cmd, op)
		if err != nil {
			return fmt.Errorf("encode resource options: %w", err)
		}

		cfg := task.Config{DestRoot: destRoot, Concurrency: concurrency, Debug: debug}
		client := &http.Client{}

		return task.Run(context.Background(), st, client, c, cfg, args, op, arguments, force)
	}
}

// resolveDir returns the flag's value if the caller set it, otherwise
// calls dflt to compute an OS-convention default and ensures the
// resulting directory exists.
func resolveDir(cmd *cobra.Command, flag string, dflt func() (string, error)) (string, error) {
	dir, _ := cmd.Flags().GetString(flag)
	if dir == "" {
		d, err := dflt()
		if err != nil {
			return "", err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %q: %w", dir, err)
	}
	return dir, nil
}

// resourceArguments serializes the per-resource creation overrides given
// on the command line into the string stored in a Resource's arguments
// column (spec.md: replayed verbatim by a later update). Only the
// create-ish actions read these flags; update and remove replay whatever
// was stored at create time instead.
func resourceArguments(cmd *cobra.Command, op types.Action) (string, error) {
	if op != types.ActionDownload && op != types.ActionExtract && op != types.ActionInstall {
		return "", nil
	}
	var opts resource.Options
	if cmd.Flags().Changed("strip-components") {
		v, _ := cmd.Flags().GetInt("strip-components")
		opts.StripComponents = &v
	}
	if cmd.Flags().Changed("trusted") {
		v, _ := cmd.Flags().GetBool("trusted")
		opts.Trusted = &v
	}
	return resource.EncodeOptions(opts)
}

// serveMetrics starts a /metrics, /health, /ready, and /live HTTP server
// for the duration of a task run, and a Collector polling the store for
// its gauge metrics. store/cache start registered optimistically; the
// Collector's own store poll and task.Run's cache sweep flip them
// unhealthy the moment either actually fails. It returns a function that
// stops both.
func serveMetrics(addr string, st store.Store) func() {
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("cache", true, "")

	collector := metrics.NewCollector(st)
	collector.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()

	return func() {
		collector.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func confirmRemoval(names []string) (bool, error) {
	var confirmed bool
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Remove every resource matching %d pattern(s) and everything they wrote?", len(names)),
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}
