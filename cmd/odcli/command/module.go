package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opendavinci/internal/data"
	"opendavinci/internal/microservices/module"
)

var (
	runIdentifier string
	runTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <module>",
	Short: "Register as module <module> and stay running",
	Long: `Discover the supercomponent, register as a module, print the received
configuration and report RUNNING until Ctrl+C, then exit cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()

		rt, err := module.Start(ctx, module.Options{
			Name:              args[0],
			Identifier:        runIdentifier,
			Version:           "odcli",
			Group:             group,
			DiscoveryPort:     discoveryPort,
			ReplyPort:         replyPort,
			ConferencePort:    conferencePort,
			DisableConference: true,
		}, logger())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "registered as %s\n", rt.Identity())
		fmt.Fprint(out, rt.Configuration().String())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			return rt.Stop(data.ExitOkay)
		case <-rt.Lost():
			rt.Stop(data.ExitConnectionLost)
			return errors.New("supercomponent went away")
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runIdentifier, "id", "", "declared module identifier")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Second, "discovery and registration timeout")
	rootCmd.AddCommand(runCmd)
}
