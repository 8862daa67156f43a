package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/config"
)

type validateResult struct {
	File     string           `json:"file"`
	Valid    bool             `json:"valid"`
	Servers  int              `json:"servers,omitempty"`
	Problems []config.Problem `json:"problems,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a definition file without starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			w := cmd.OutOrStdout()

			servers, err := config.LoadFile(path)
			if err == nil {
				res := validateResult{File: path, Valid: true, Servers: len(servers)}
				return a.printResult(w, res, func() {
					fmt.Fprintf(w, "%s: valid (%d servers)\n", path, len(servers))
				})
			}

			res := validateResult{File: path}
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				res.Problems = verr.Problems
			} else {
				res.Error = err.Error()
			}
			if perr := a.printResult(w, res, func() {
				if len(res.Problems) == 0 {
					fmt.Fprintf(w, "%s: %s\n", path, res.Error)
					return
				}
				fmt.Fprintf(w, "%s: %d problems\n", path, len(res.Problems))
				for _, p := range res.Problems {
					fmt.Fprintf(w, "  - %s\n", p)
				}
			}); perr != nil {
				return perr
			}
			return fmt.Errorf("%s is not valid", path)
		},
	}
}
