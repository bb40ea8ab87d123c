package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opendavinci/internal/data"
	"opendavinci/internal/microservices/conference"
	"opendavinci/internal/timesource"
	"opendavinci/internal/wire"
)

var (
	listenCount   int
	pulseCount    int
	pulseInterval time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print containers received on the conference",
	Long: `Join the conference and print one line per received container.

Press Ctrl+C to stop listening.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := conference.New(group, conferencePort, timesource.Default(), logger())
		if err != nil {
			return err
		}
		defer conf.Close()

		names := data.NewRegistry()
		received := make(chan wire.Container, 64)
		conf.AddContainerListener(wire.ContainerListenerFunc(func(c wire.Container) {
			select {
			case received <- c:
			default:
			}
		}))

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		out := cmd.OutOrStdout()
		for n := 0; listenCount == 0 || n < listenCount; n++ {
			select {
			case c := <-received:
				name, ok := names.Name(c.Type)
				if !ok {
					name = fmt.Sprintf("type %d", c.Type)
				}
				fmt.Fprintf(out, "%s  %-24s %6d bytes  latency %s\n",
					c.Received.Time().Format(time.RFC3339Nano), name, len(c.Payload), c.Received.Sub(c.Sent))
			case <-sigChan:
				return nil
			}
		}
		return nil
	},
}

var pulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Publish Pulse containers on the conference",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := conference.New(group, conferencePort, timesource.Default(), logger())
		if err != nil {
			return err
		}
		defer conf.Close()

		for seq := 1; seq <= pulseCount; seq++ {
			p := &data.Pulse{Sequence: uint64(seq), Nominal: pulseInterval.Microseconds()}
			if err := conf.SendPayload(p); err != nil {
				return fmt.Errorf("pulse %d: %w", seq, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent pulse %d\n", seq)
			if seq < pulseCount {
				time.Sleep(pulseInterval)
			}
		}
		return nil
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "stop after n containers (0 = forever)")
	pulseCmd.Flags().IntVarP(&pulseCount, "count", "n", 1, "number of pulses")
	pulseCmd.Flags().DurationVar(&pulseInterval, "interval", time.Second, "time between pulses")
	rootCmd.AddCommand(listenCmd, pulseCmd)
}
