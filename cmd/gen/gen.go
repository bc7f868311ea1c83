// Package gen holds build-time generators that are not needed to run relay.
package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:    "gen",
	Short:  "Generate documentation for relay",
	Long:   `Generate documentation for relay, currently man pages for every command`,
	Hidden: true,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
