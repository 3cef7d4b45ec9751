/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/lostfound/apiserver/config"
	"github.com/lostfound/apiserver/internal/mq"
	"github.com/lostfound/apiserver/internal/server"
	"github.com/lostfound/apiserver/internal/services"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consumes item lifecycle events",
	Long: `Consumes item lifecycle events from the configured broker and logs
them. This is the hook point for notification delivery. Usage:

	lostfound worker
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()

		queue, err := server.NewQueue(cmd.Context(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect broker: %v\n", err)
			os.Exit(1)
		}
		if queue == nil {
			fmt.Fprintln(os.Stderr, "MQ_BACKEND must be set to run the worker")
			os.Exit(1)
		}
		defer func() {
			_ = queue.Close()
		}()

		err = queue.Subscribe(cmd.Context(), services.EventChannel, func(ctx context.Context, msg mq.Message) error {
			var event services.ItemEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				log.Printf("discarding malformed event %s: %v", msg.ID, err)
				return nil
			}
			log.Printf("item event: kind=%s item=%s status=%s moderator=%s",
				event.Kind, event.ItemID, event.Status, event.Moderator)
			return nil
		})
		if err != nil && cmd.Context().Err() == nil {
			fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
