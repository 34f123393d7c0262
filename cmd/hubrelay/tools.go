package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"HubRelay/internal/config"
	"HubRelay/internal/core/capability"
	"HubRelay/internal/core/identity"
	"HubRelay/internal/core/network"
	"HubRelay/internal/notify"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <path>",
	Short: "Generate an identity key",
	Long:  `Generate an Ed25519 identity, write it to path and print its peer ID.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("%s already exists", args[0])
		}
		kp, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := identity.Save(args[0], kp); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), kp.ID)
		return nil
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive <owner>",
	Short: "Print the record addresses of an owner",
	Long:  `Print the hub address, topic set address and hub publish token derived from an owner's peer ID.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := identity.Parse(args[0])
		if err != nil {
			return err
		}
		hub := capability.HubAddress(owner)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "hub:    %s\n", hub)
		fmt.Fprintf(out, "topics: %s\n", capability.TopicsAddress(owner))
		fmt.Fprintf(out, "token:  %s\n", capability.PublishToken(hub))
		return nil
	},
}

var listenBootstrap []string

var listenCmd = &cobra.Command{
	Use:   "listen <subscriber>",
	Short: "Print notifications for a subscriber",
	Long: `Join the relay's gossip network with an ephemeral identity and print every
notification published to the subscriber's inbox.`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringSliceVarP(&listenBootstrap, "bootstrap", "b", nil, "relay multiaddr with /p2p/ suffix (repeatable)")
}

func runListen(cmd *cobra.Command, args []string) error {
	subscriber, err := identity.Parse(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
		ListenAddrs: []string{network.DefaultListenAddr},
		Bootstrap:   append(append([]string{}, cfg.Network.Bootstrap...), listenBootstrap...),
		Rendezvous:  cfg.Network.Rendezvous,
		EnableMDNS:  cfg.Network.EnableMDNS,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	ch, unsubscribe, err := node.Subscribe(notify.InboxTopic(subscriber))
	if err != nil {
		return err
	}
	defer unsubscribe()
	log.Infof("Listening for %s as %s", subscriber, node.PeerID())

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evt, err := notify.Decode(msg.Payload)
			if err != nil {
				log.Warnf("skip malformed notification: %v", err)
				continue
			}
			fmt.Fprintf(out, "%s %s %s -> %s: %s\n", evt.At.Format("15:04:05"), evt.Hub, evt.Topic, evt.Publisher, evt.Message)
		}
	}
}
