package command

// root.go defines the root command for odcli and its global flags.

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"opendavinci/internal/config"
)

var (
	group          string // multicast group of the conference
	discoveryPort  int
	replyPort      int
	conferencePort int
	logLevel       string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "odcli",
	Short: "odcli - inspect and drive an OpenDaVINCI conference",
	Long: `odcli talks to a running supercomponent and its conference. It can:
- discover the supercomponent the way a module does
- register as a module and receive its configuration
- listen to containers on the conference
- publish test containers
- query the supercomponent status API
- follow registry changes live

Use "odcli command --help" to see the flags of each command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaults, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&group, "group", defaults.MulticastGroup, "multicast group")
	rootCmd.PersistentFlags().IntVar(&discoveryPort, "discovery-port", defaults.DiscoveryPort, "discovery UDP port")
	rootCmd.PersistentFlags().IntVar(&replyPort, "reply-port", defaults.DiscoveryReplyPort, "local port for discovery answers (0 = any)")
	rootCmd.PersistentFlags().IntVar(&conferencePort, "conference-port", defaults.ConferencePort, "conference UDP port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func logger() *slog.Logger {
	return config.NewLogger(logLevel, "text", os.Stderr)
}
