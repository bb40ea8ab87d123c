package command

import (
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	odws "opendavinci/internal/microservices/websocket"
)

var (
	watchAPI   string
	watchCount int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow module registry changes live",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := feedURL(watchAPI)
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), url, nil)
		if err != nil {
			return fmt.Errorf("failed to open module feed: %w", err)
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		for seen := 0; watchCount <= 0 || seen < watchCount; {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return nil
				}
				return fmt.Errorf("module feed: %w", err)
			}
			ev, err := odws.EventFromJSON(b)
			if err != nil {
				logger().Warn("watch_bad_event", "error", err)
				continue
			}
			switch ev.Type {
			case odws.TypeSnapshot:
				fmt.Fprintf(out, "%s snapshot modules=%d\n", ev.Timestamp.Format("15:04:05.000"), len(ev.Modules))
				for _, m := range ev.Modules {
					fmt.Fprintf(out, "  %s %s\n", m.Key, m.State)
				}
			case odws.TypeModule:
				fmt.Fprintf(out, "%s %s %s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Kind, ev.Module.Key, ev.Module.State)
				seen++
			}
		}
		return nil
	},
}

// feedURL turns the status API base URL into the websocket feed URL.
func feedURL(api string) (string, error) {
	switch {
	case strings.HasPrefix(api, "http://"):
		return "ws://" + strings.TrimSuffix(strings.TrimPrefix(api, "http://"), "/") + "/ws", nil
	case strings.HasPrefix(api, "https://"):
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(api, "https://"), "/") + "/ws", nil
	default:
		return "", fmt.Errorf("unsupported api url %q", api)
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchAPI, "api", "http://127.0.0.1:8080", "supercomponent status API URL")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "exit after this many module events (0 = forever)")
	rootCmd.AddCommand(watchCmd)
}
