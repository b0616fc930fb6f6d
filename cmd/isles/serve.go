package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/islehub/isles"
)

const managerConfigKey = "manager"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts a manager instance based on the config in $HOME/.isles.yaml",
	Long: `serve starts a manager instance based on the config in $HOME/.isles.yaml

	The following keys are read from $HOME/.isles.yaml:

	manager:
	  id: islemanager
	  log_path: log.txt
	  tick_interval: 10ms
	  server:
	    network: tcp
	    address: 127.0.0.1:44168
	`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := isles.DefaultManagerConfig()

		if err := viper.UnmarshalKey(managerConfigKey, &cfg); err != nil {
			fmt.Printf("error unmarshalling manager config [%v]\n", err)
			os.Exit(1)
		}

		manager := isles.NewManager(cfg.ToManagerOptions()...)
		manager.InstallSignalHandler()

		ctx := context.Background()

		if cfg.Server != nil {
			server, err := isles.NewServer(cfg.Server.Network, cfg.Server.Address, manager.ID(), nil)
			if err != nil {
				fmt.Printf("error starting server [%v]\n", err)
				os.Exit(1)
			}

			if err := manager.AddIsle(ctx, server.Isle); err != nil {
				fmt.Printf("error admitting server isle [%v]\n", err)
				os.Exit(1)
			}
		}

		for _, peerCfg := range cfg.Peers {
			peer, err := isles.DialPeer(peerCfg.Network, peerCfg.Address)
			if err != nil {
				fmt.Printf("error dialing peer %s [%v]\n", peerCfg.Address, err)
				os.Exit(1)
			}

			if err := manager.AddIsle(ctx, peer.Isle); err != nil {
				fmt.Printf("error admitting peer isle [%v]\n", err)
				os.Exit(1)
			}
		}

		if err := manager.Start(ctx); err != nil {
			fmt.Printf("error running manager [%v]\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
