package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/relay/cmd/gen"
	"github.com/luma/relay/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay is a framed request/response command server",
	Long: `Relay serves text commands over a long-lived TLS connection.

Each command is sent as a length prefixed JSON envelope and answered with
a reply carrying the same id, so many commands can be in flight at once.`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		fmt.Fprintf(cmd.OutOrStdout(), "relay %s (%s, %s) built %s with %s for %s\n",
			orUnknown(info.Version),
			orUnknown(info.Build),
			orUnknown(info.Branch),
			orUnknown(info.BuildTime),
			info.GoVersion,
			info.Platform)
	},
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
