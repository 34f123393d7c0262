// Package main provides the hubrelay command: the relay daemon and a few helpers
// for keys, addresses and following an inbox.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"HubRelay/internal/auth"
	"HubRelay/internal/config"
	"HubRelay/internal/core/identity"
	"HubRelay/internal/core/network"
	"HubRelay/internal/match"
	"HubRelay/internal/notify"
	"HubRelay/internal/registry"
	"HubRelay/internal/relay"
	"HubRelay/internal/relayapi"
)

var log = logging.Logger("hubrelay")

var rootCmd = &cobra.Command{
	Use:   "hubrelay",
	Short: "Hub relay - topic subscriptions and publish fan-out",
	Long: `hubrelay keeps per-owner hubs of (subscriber, topic) subscriptions and
fans each publication out as one notification per matching subscriber.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			logging.SetAllLoggers(logging.LevelDebug)
		} else {
			logging.SetAllLoggers(logging.LevelInfo)
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the relay daemon",
	Long:  `Start the relay with its HTTP API and notification transport.`,
	RunE:  runDaemon,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize relay configuration",
	Long:  `Write the default configuration and create the node identity key.`,
	RunE:  runInit,
}

var (
	configPath string
	listenAddr string
	debug      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	daemonCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override API listen address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(listenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}
	if !debug && cfg.Log.Level != "" {
		level, err := logging.LevelFromString(cfg.Log.Level)
		if err != nil {
			return err
		}
		logging.SetAllLoggers(level)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	ps, err := openTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer ps.Close()

	matcher, err := match.New(match.Policy(cfg.Relay.Match))
	if err != nil {
		return err
	}
	policy, err := auth.ParsePublishPolicy(cfg.Relay.PublishPolicy)
	if err != nil {
		return err
	}
	svc := relay.NewService(
		registry.New(store),
		auth.NewGuard(policy),
		matcher,
		notify.NewEmitter(notify.NewTransportSink(ps), notify.LogSink{}),
	)

	mux := http.NewServeMux()
	relayapi.NewServer(svc, ps, cfg.API.RequireSignatures).Register(mux)
	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Relay API available at http://%s/api/hub/", cfg.API.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server error: %v", err)
			cancel()
		}
	}()
	log.Infow("relay started", "match", cfg.Relay.Match, "publish_policy", policy, "storage", cfg.Storage.Driver, "transport", cfg.Network.Transport)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("API server shutdown error: %v", err)
	}
	return nil
}

func openStore(cfg *config.Config) (registry.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return registry.NewMemoryStore(), nil
	case config.StorageSQLite:
		return registry.NewSQLiteStore(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openTransport(ctx context.Context, cfg *config.Config) (network.PubSub, error) {
	switch cfg.Network.Transport {
	case config.TransportMemory:
		return network.NewMemoryPubSub(), nil
	case config.TransportWatermill:
		return network.NewWatermillPubSub(), nil
	case config.TransportLibp2p:
		kp, err := identity.LoadOrCreate(cfg.Network.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		node, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
			ListenAddrs: cfg.Network.Listen,
			Bootstrap:   cfg.Network.Bootstrap,
			Rendezvous:  cfg.Network.Rendezvous,
			EnableMDNS:  cfg.Network.EnableMDNS,
			Key:         kp.PrivateKey(),
		})
		if err != nil {
			return nil, err
		}
		log.Infof("Peer ID: %s", node.PeerID())
		for _, addr := range node.ListenAddrs() {
			log.Infof("Listening on: %s", addr)
		}
		log.Infof("Connected to %d bootstrap peers", len(node.ConnectedPeers()))
		return node, nil
	default:
		return nil, fmt.Errorf("unknown network transport %q", cfg.Network.Transport)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if cfg.Storage.Driver == config.StorageSQLite {
		if err := os.MkdirAll(filepath.Clean(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	kp, err := identity.LoadOrCreate(cfg.Network.IdentityKeyFile)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	log.Infof("Initialized relay configuration at %s", path)
	log.Infof("Node identity %s stored in %s", kp.ID, cfg.Network.IdentityKeyFile)
	return nil
}
