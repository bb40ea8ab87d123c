package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"opendavinci/internal/microservices/http-api/dto"
)

var apiURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List modules known to the supercomponent",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(apiURL + "/modules")
		if err != nil {
			return fmt.Errorf("failed to reach supercomponent: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status api returned %s", resp.Status)
		}

		var list dto.ModuleListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return fmt.Errorf("invalid status response: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODULE\tSTATE\tEXIT\tCONNECTED")
		for _, m := range list.Modules {
			exit := "-"
			if m.HasExitCode {
				exit = m.ExitCode
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Key, m.State, exit, m.ConnectedAt)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:8080", "supercomponent status API URL")
	rootCmd.AddCommand(statusCmd)
}
