// Command fmgshell is an interactive shell for the FortiManager JSON-RPC
// API with tab completion over the API path catalogue.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"fmgshell/checksum"
	"fmgshell/config"
	"fmgshell/diag"
	"fmgshell/fmg"
	"fmgshell/logging"
	"fmgshell/pathtree"
	"fmgshell/shell"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath    string
	cataloguePath string
	debug         bool
	debugFile     string
	diagAddr      string

	cfg     *config.Config
	logger  *zap.Logger
	tracker = diag.NewTracker()

	// current is the client of the latest login, read by the metrics
	// collector.
	current atomic.Pointer[fmg.CachingClient]
)

var rootCmd = &cobra.Command{
	Use:   "fmgshell",
	Short: "Interactive shell for the FortiManager JSON-RPC API",
	Long: `fmgshell logs in to a FortiManager and lets you walk its API catalogue
like a filesystem: cd, ls and tree over the known API paths, with tab
completion, plus get commands for the system status and the ADOM list.

Run without arguments to start the shell. End a line with '?' for the
possible completions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath == "" {
			if configPath, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}

		// The shell owns the terminal, so its log always goes to a file.
		file := debugFile
		if file == "" && cmd == cmd.Root() {
			file = cfg.DebugFile
		}
		logger, err = logging.New(logging.Options{Debug: debug, File: file})
		if err != nil {
			return err
		}
		logger.Debug("starting", zap.String("version", version), zap.String("config", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runShell,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.fmgshell/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cataloguePath, "catalogue", "", "API path catalogue, one path per line (default built-in)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&debugFile, "debug-file", "", "log file (default fmgshell.debug for the shell, stderr otherwise)")
	rootCmd.PersistentFlags().StringVar(&diagAddr, "diag-addr", "", "serve /diag and /metrics on this address")

	rootCmd.AddCommand(treeCmd, completeCmd, mountCmd, profileCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadCatalogue reads --catalogue, then the config's catalogue, then the
// built-in one.
func loadCatalogue() (*pathtree.Node, error) {
	path := cataloguePath
	if path == "" {
		path = cfg.Catalogue
	}
	if path == "" {
		return pathtree.Default(), nil
	}
	tree, err := pathtree.LoadFile(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("catalogue loaded", zap.String("path", path), zap.Int("nodes", tree.Count()))
	return tree, nil
}

// connect builds the client stack for one login.
func connect(baseURL string, insecure bool, debugOut io.Writer) *fmg.CachingClient {
	client := fmg.NewClient(baseURL,
		fmg.WithInsecure(insecure),
		fmg.WithDebugWriter(debugOut),
		fmg.WithLogger(logger),
		fmg.WithTracker(tracker),
	)
	c := fmg.NewCachingClient(client, logger)
	current.Store(c)
	return c
}

func cacheStats() checksum.Stats {
	if c := current.Load(); c != nil {
		return c.CacheStats()
	}
	return checksum.Stats{}
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// startDiag serves the tracker and metrics when --diag-addr is set. The
// returned function shuts the server down.
func startDiag() func() {
	if diagAddr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:              diagAddr,
		Handler:           diag.NewMux(tracker, cacheStats),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("diag server failed", zap.String("addr", diagAddr), zap.Error(err))
		}
	}()
	logger.Info("diag server listening", zap.String("addr", diagAddr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runShell(cmd *cobra.Command, args []string) error {
	tree, err := loadCatalogue()
	if err != nil {
		return err
	}
	stop := startDiag()
	defer stop()

	ctx, cancel := signalContext()
	defer cancel()

	sh := shell.New(shell.Options{
		Tree:   tree,
		Logger: logger,
		Config: cfg,
		Connect: func(baseURL string, insecure bool, debugOut io.Writer) shell.Backend {
			return connect(baseURL, insecure, debugOut)
		},
		ReadPassword: readPassword,
	})
	return sh.Run(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "fmgshell", version)
	},
}
