package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/cli/internal/output"
)

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-server request counts from the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return a.printResult(w, stats, func() {
				if len(stats) == 0 {
					fmt.Fprintln(w, "No requests recorded")
					return
				}
				tw := output.Table(w)
				fmt.Fprintln(tw, "SERVER\tREQUESTS\tUNMATCHED\tMEAN\tSTATUS")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%.1fms\t%s\n",
						s.ServerID, s.Requests, s.Unmatched, s.MeanResponseSec*1000, statusSummary(s.ByStatus))
				}
				_ = tw.Flush()
			})
		},
	}
}

// statusSummary renders {"200": 3, "404": 1} as "200x3 404x1".
func statusSummary(byStatus map[string]int) string {
	codes := make([]string, 0, len(byStatus))
	for code := range byStatus {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%sx%d", code, byStatus[code])
	}
	return strings.Join(parts, " ")
}
