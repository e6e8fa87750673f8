package main

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gonzalop/mqrr"
	"github.com/gonzalop/mqrr/pahoadapter"
)

var (
	configPath string
	cfg        Config
	zlog       zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mqrrdemo",
	Short: "Exercise the mqrr request/response and streaming client",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		zlog = newZerologLogger(cfg.LogLevel, cfg.LogJSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(streamCmd)
}

// connectedClient builds a pahoadapter.Adapter from cfg, starts it, waits
// for the first connection, and wraps it in an mqrr.Client.
func connectedClient(ctx context.Context) (*mqrr.Client, *pahoadapter.Adapter, error) {
	brokerURL, err := cfg.brokerURL()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(newSlogHandler(zlog))

	ad := pahoadapter.New(pahoadapter.Config{
		BrokerURLs: []*url.URL{brokerURL},
		ClientID:   cfg.ClientID,
		Username:   cfg.Username,
		Password:   []byte(cfg.Password),
		QoS:        cfg.QoS,
		Logger:     logger,
	})
	if err := ad.Start(ctx); err != nil {
		return nil, nil, err
	}
	if err := ad.AwaitConnection(ctx); err != nil {
		return nil, nil, err
	}

	client, err := mqrr.NewRequestResponseClient(ad, mqrr.WithTimeout(cfg.Timeout), mqrr.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return client, ad, nil
}
