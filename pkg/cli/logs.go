package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/cli/internal/output"
	"github.com/getmockd/mockhost/pkg/controlclient"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

func (a *app) logsCommand() *cobra.Command {
	var (
		serverID     string
		follow       bool
		limit        int
		requestsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recorded requests and server lifecycle events",
		Example: `  # Last 20 requests of one server
  mockhost logs --server users-api --limit 20 --requests

  # Stream events as they happen
  mockhost logs -f`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow && cmd.Flags().Changed("limit") {
				output.Warn(cmd.ErrOrStderr(), "--limit is ignored with --follow; the whole backlog is replayed")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			q := controlclient.EventQuery{ServerID: serverID, RequestsOnly: requestsOnly}

			if follow {
				q.Backlog = true
				return client.Follow(cmd.Context(), q, func(ev requestlog.Event) error {
					return a.writeEvent(w, ev)
				})
			}

			q.Limit = limit
			events, err := client.Recent(cmd.Context(), q)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printResult(w, events, nil)
			}
			// Oldest first, like a log.
			for i := len(events) - 1; i >= 0; i-- {
				if err := a.writeEvent(w, events[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&serverID, "server", "", "Only events of this server")
	fl.BoolVarP(&follow, "follow", "f", false, "Stream new events until interrupted")
	fl.IntVarP(&limit, "limit", "n", 50, "Number of recent events to show")
	fl.BoolVar(&requestsOnly, "requests", false, "Only request events")
	return cmd
}

// writeEvent prints one event: a JSON line under --json, otherwise a short
// human-readable line.
func (a *app) writeEvent(w io.Writer, ev requestlog.Event) error {
	if a.jsonOutput {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, formatEvent(ev))
	return err
}

func formatEvent(ev requestlog.Event) string {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Kind {
	case requestlog.KindRequest:
		if ev.Log == nil {
			break
		}
		l := ev.Log
		matched := l.MatchedEndpointID
		if matched == "" {
			matched = "-"
		}
		return fmt.Sprintf("%s %s %s %s -> %d (%dms) [%s]",
			ts, ev.ServerID, l.Method, l.Path, l.ResponseStatus, l.ResponseTime, matched)
	case requestlog.KindStarted:
		if ev.Server != nil {
			return fmt.Sprintf("%s %s started on %s", ts, ev.ServerID, ev.Server.Addr)
		}
		return fmt.Sprintf("%s %s started", ts, ev.ServerID)
	case requestlog.KindStopped:
		return fmt.Sprintf("%s %s stopped", ts, ev.ServerID)
	}
	return fmt.Sprintf("%s %s %s", ts, ev.ServerID, ev.Kind)
}
