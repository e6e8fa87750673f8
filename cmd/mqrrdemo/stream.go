package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gonzalop/mqrr"
)

var streamFilter string

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Open a streaming subscription and print messages until interrupted",
	RunE:  runStream,
}

func init() {
	streamCmd.Flags().StringVar(&streamFilter, "filter", "", "subscription filter to stream (required)")
	streamCmd.MarkFlagRequired("filter")
}

func runStream(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, ad, err := connectedClient(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()
	defer ad.Close()

	stream, err := client.CreateStream(mqrr.StreamOptions{Filter: streamFilter})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	if err := stream.Open(); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	zlog.Info().Str("filter", streamFilter).Msg("streaming, press ctrl-c to stop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream.Messages():
			if !ok {
				return nil
			}
			fmt.Printf("%s: %s\n", msg.Topic, string(msg.Payload))
		case ev, ok := <-stream.Status():
			if !ok {
				return nil
			}
			logStatus(ev)
		}
	}
}

func logStatus(ev mqrr.StatusEvent) {
	e := zlog.Info()
	if ev.Error != nil {
		e = zlog.Warn().Err(ev.Error)
	}
	e.Str("status", ev.Kind.String()).Msg("stream status changed")
}
