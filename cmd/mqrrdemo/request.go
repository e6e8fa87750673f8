package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gonzalop/mqrr"
)

var (
	requestFilter  string
	responseTopic  string
	tokenPath      string
	publishTopic   string
	requestPayload string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Submit a single request/response operation and print its response",
	RunE:  runRequest,
}

func init() {
	requestCmd.Flags().StringVar(&requestFilter, "filter", "", "subscription filter to wait for the response on (required)")
	requestCmd.Flags().StringVar(&responseTopic, "response-topic", "", "concrete response topic (defaults to --filter)")
	requestCmd.Flags().StringVar(&tokenPath, "token-path", "", "dot-separated JSON path to the correlation token in the response")
	requestCmd.Flags().StringVar(&publishTopic, "publish-topic", "", "topic to publish the request to (required)")
	requestCmd.Flags().StringVar(&requestPayload, "payload", "{}", "request payload")
	requestCmd.MarkFlagRequired("filter")
	requestCmd.MarkFlagRequired("publish-topic")
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout+5*time.Second)
	defer cancel()

	client, ad, err := connectedClient(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()
	defer ad.Close()

	topic := responseTopic
	if topic == "" {
		topic = requestFilter
	}
	token := uuid.New().String()

	future, err := client.SubmitRequest(mqrr.RequestOptions{
		Filters: []string{requestFilter},
		ResponsePaths: []mqrr.ResponsePath{
			{Topic: topic, CorrelationTokenPath: tokenPath},
		},
		PublishTopic:     publishTopic,
		Payload:          []byte(requestPayload),
		CorrelationToken: token,
	})
	if err != nil {
		return fmt.Errorf("submit request: %w", err)
	}

	resp, err := future.Wait(ctx)
	if err != nil {
		return fmt.Errorf("await response: %w", err)
	}

	zlog.Info().Str("topic", resp.Topic).Bytes("payload", resp.Payload).Msg("received response")
	fmt.Printf("%s: %s\n", resp.Topic, string(resp.Payload))
	return nil
}
