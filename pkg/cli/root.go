package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/cli/internal/output"
	"github.com/getmockd/mockhost/pkg/cliconfig"
	"github.com/getmockd/mockhost/pkg/controlclient"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// app holds the persistent flags and the seams tests replace.
type app struct {
	adminURL   string
	jsonOutput bool
	logLevel   string
	logFormat  string

	loadConfig func() (*cliconfig.Config, error)

	// serveReady is called with the control API address once serve is up.
	serveReady func(addr string)
}

func newApp() *app {
	return &app{loadConfig: cliconfig.LoadAll}
}

// NewRootCommand builds the mockhost command tree.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mockhost",
		Short: "Run and manage mock HTTP servers",
		Long: `mockhost runs mock HTTP servers that answer configured endpoints with
canned responses and records every request they receive.

"mockhost serve" hosts the servers and a control API; the other commands
talk to that API. Settings come from flags, MOCKHOST_* environment variables,
.mockhostrc.yaml in the working directory and the global config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.adminURL, "admin-url", "", "Control API base URL (default: from config, http://127.0.0.1:4290)")
	pf.BoolVar(&a.jsonOutput, "json", false, "Output command results in JSON format")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: text, json")

	root.AddCommand(
		a.serveCommand(),
		a.startCommand(),
		a.stopCommand(),
		a.statusCommand(),
		a.listCommand(),
		a.logsCommand(),
		a.statsCommand(),
		a.validateCommand(),
		a.versionCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err))
		os.Exit(1)
	}
}

// FormatError renders err for the terminal, with hints for an unreachable
// control API.
func FormatError(err error) string {
	if controlclient.IsConnectionError(err) {
		return fmt.Sprintf(`Error: %s

Suggestions:
  • Start the host: mockhost serve
  • Check the control API address with --admin-url or MOCKHOST_ADMIN_URL`, err)
	}
	var flagErr *flagError
	if errors.As(err, &flagErr) {
		return "Error: " + flagErr.Error() + "\nRun with --help for usage."
	}
	return "Error: " + err.Error()
}

type flagError struct{ msg string }

func (e *flagError) Error() string { return e.msg }

func (a *app) client() (*controlclient.Client, error) {
	url := a.adminURL
	if url == "" {
		cfg, err := a.loadConfig()
		if err != nil {
			return nil, err
		}
		url = cfg.ResolvedAdminURL()
	}
	return controlclient.New(url), nil
}

// printResult writes data as JSON under --json, otherwise calls textFn.
func (a *app) printResult(w io.Writer, data any, textFn func()) error {
	if a.jsonOutput {
		return output.JSON(w, data)
	}
	textFn()
	return nil
}
