package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opendavinci/internal/microservices/discovery"
)

var (
	discoverTimeout    time.Duration
	discoverIdentifier string
)

var discoverCmd = &cobra.Command{
	Use:   "discover <module>",
	Short: "Find the supercomponent as module <module>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		client := discovery.NewClient(group, discoveryPort, logger())
		client.ReplyPort = replyPort
		reply, err := client.DiscoverAs(ctx, args[0], discoverIdentifier)
		if err != nil {
			return fmt.Errorf("no supercomponent answered: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "supercomponent: %s\nidentity:       %s\n",
			reply.Server.String(), reply.Identifier)
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "how long to keep asking")
	discoverCmd.Flags().StringVar(&discoverIdentifier, "id", "", "declared module identifier")
	rootCmd.AddCommand(discoverCmd)
}
