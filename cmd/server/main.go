package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agentpunk/internal/detect"
	"agentpunk/internal/hub"
	"agentpunk/internal/logger"
	"agentpunk/internal/protocol"
	"agentpunk/internal/realtime"
	"agentpunk/internal/session"
	"agentpunk/internal/snapshot"
	"agentpunk/internal/watcher"
)

var rootCmd = &cobra.Command{
	Use:           "agentpunk-server",
	Short:         "Terminal session orchestrator for agent CLIs",
	Long: `agentpunk-server hosts pseudo-terminal-backed agent sessions, streams
their output to WebSocket clients, and infers each session's lifecycle
state (ready, working, waiting_input, dead) from the output itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.Int("port", 8420, "HTTP listen port")
	flags.String("static-dir", "", "Directory of static assets to serve (optional)")
	flags.String("snapshot-path", "", "Session snapshot file (default ~/.agentpunk/sessions.json)")
	flags.Int("max-sessions", 10, "Maximum concurrent live sessions")
	flags.Int("buffer-capacity", 5000, "Output chunks retained per session")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("config", "", "Config file (default ~/.agentpunk/config.yaml)")

	viper.BindPFlag("port", flags.Lookup("port"))
	viper.BindPFlag("static_dir", flags.Lookup("static-dir"))
	viper.BindPFlag("snapshot_path", flags.Lookup("snapshot-path"))
	viper.BindPFlag("max_sessions", flags.Lookup("max-sessions"))
	viper.BindPFlag("buffer_capacity", flags.Lookup("buffer-capacity"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))

	// Detector tunables are empirically tuned per hosted CLI; config-only.
	viper.SetDefault("detector.silence_window_ms", 2000)
	viper.SetDefault("detector.fragment_limit", 15)
	viper.SetDefault("snapshot.debounce_ms", 1000)
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".agentpunk"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AGENTPUNK")
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

func run(cmd *cobra.Command, args []string) error {
	log, err := logger.New(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	defer log.Sync()

	snapshotPath := viper.GetString("snapshot_path")
	if snapshotPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		snapshotPath = filepath.Join(home, ".agentpunk", "sessions.json")
	}

	h := hub.New(log)
	snap := snapshot.New(snapshotPath,
		time.Duration(viper.GetInt("snapshot.debounce_ms"))*time.Millisecond, log)
	recovered := snapshot.Load(snapshotPath, log)
	if len(recovered) > 0 {
		log.Info("recovered session metadata from last run", zap.Int("records", len(recovered)))
	}

	mgr := session.NewManager(session.Config{
		MaxSessions:    viper.GetInt("max_sessions"),
		BufferCapacity: viper.GetInt("buffer_capacity"),
		Detector: detect.Config{
			SilenceWindow: time.Duration(viper.GetInt("detector.silence_window_ms")) * time.Millisecond,
			FragmentLimit: viper.GetInt("detector.fragment_limit"),
		},
	}, h, snap, detect.ClaudeClassifier{}, log)

	// Workspace activity fans out to every observer, like lifecycle events.
	watch := watcher.New(func(sessionID string, fileCount int) {
		msg, err := protocol.NewMessage(protocol.TypeWorkspaceActivity, protocol.WorkspaceActivityPayload{
			SessionID: sessionID,
			FileCount: fileCount,
		})
		if err == nil {
			h.PublishEvent(msg)
		}
	}, log)
	h.Register(watcher.NewHubBridge(watch))

	srv := realtime.New(mgr, h, recovered, viper.GetString("static_dir"), log)

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		watch.Shutdown()
		mgr.Shutdown()
		snap.Close()
		httpServer.Close()
	}()

	log.Info("agentpunk server listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
