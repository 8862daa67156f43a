package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/cli/internal/output"
	"github.com/getmockd/mockhost/pkg/config"
	"github.com/getmockd/mockhost/pkg/mockserver"
)

func (a *app) startCommand() *cobra.Command {
	var (
		file string
		only string
	)

	cmd := &cobra.Command{
		Use:   "start -f FILE",
		Short: "Start servers from a definition file on a running host",
		Example: `  # Start every server in mocks.yaml
  mockhost start -f mocks.yaml

  # Start one of them
  mockhost start -f mocks.yaml --id users-api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return &flagError{msg: "a definition file is required (-f FILE)"}
			}
			servers, err := config.LoadFile(file)
			if err != nil {
				return err
			}
			if only != "" {
				servers = filterServers(servers, only)
				if len(servers) == 0 {
					return fmt.Errorf("no server with id %q in %s", only, file)
				}
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			started := make([]mockserver.ServerInfo, 0, len(servers))
			for _, srv := range servers {
				info, err := client.StartServer(cmd.Context(), srv)
				if err != nil {
					return fmt.Errorf("start %s: %w", srv.DisplayName(), err)
				}
				started = append(started, *info)
			}

			return a.printResult(cmd.OutOrStdout(), started, func() {
				for _, info := range started {
					fmt.Fprintf(cmd.OutOrStdout(), "Started %s on %s (%d endpoints)\n",
						info.ID, info.Addr, info.Endpoints)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Definition file (YAML or JSON)")
	cmd.Flags().StringVar(&only, "id", "", "Start only the server with this id")
	return cmd
}

func filterServers(servers []*mockserver.MockServer, id string) []*mockserver.MockServer {
	for _, s := range servers {
		if s.ID == id {
			return []*mockserver.MockServer{s}
		}
	}
	return nil
}

func (a *app) stopCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "stop [ID]",
		Short: "Stop a running server, or all of them with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return &flagError{msg: "pass a server id or --all, not both"}
			case !all && len(args) == 0:
				return &flagError{msg: "a server id or --all is required"}
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			if all {
				if err := client.StopAll(cmd.Context()); err != nil {
					return err
				}
				return a.printResult(cmd.OutOrStdout(), map[string]any{"stopped": "all"}, func() {
					fmt.Fprintln(cmd.OutOrStdout(), "Stopped all servers")
				})
			}

			id := args[0]
			if err := client.StopServer(cmd.Context(), id); err != nil {
				return err
			}
			return a.printResult(cmd.OutOrStdout(), map[string]any{"stopped": id}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", id)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Stop every running server")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show whether a server is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printResult(cmd.OutOrStdout(), st, func() {
				w := cmd.OutOrStdout()
				if !st.Running {
					fmt.Fprintf(w, "%s: stopped\n", st.ID)
					return
				}
				if st.Server == nil {
					fmt.Fprintf(w, "%s: running\n", st.ID)
					return
				}
				fmt.Fprintf(w, "%s: running on %s since %s\n",
					st.ID, st.Server.Addr, st.Server.StartedAt.Format("2006-01-02 15:04:05"))
			})
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List running servers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			servers, err := client.ListServers(cmd.Context())
			if err != nil {
				return err
			}
			return a.printResult(cmd.OutOrStdout(), servers, func() {
				if len(servers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No servers running")
					return
				}
				tw := output.Table(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tENDPOINTS\tSTARTED")
				for _, s := range servers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						s.ID, s.Name, s.Addr, s.Endpoints, s.StartedAt.Format("15:04:05"))
				}
				_ = tw.Flush()
			})
		},
	}
}
