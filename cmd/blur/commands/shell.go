package commands

import (
	"strings"

	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/protocol"
	"github.com/dyluth/blur/internal/transport"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell <statement>...",
	Short: "Run a statement inside the running application",
	Long: `Run a statement in the application's shell scope and print the value it
assigns to ret.

The scope exposes app (the environment name), module(path), call(id, ...)
and classes().

Examples:
  blur shell 'ret = app'
  blur shell 'ret = module("demo/widgets").greet("world")'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stmt := strings.Join(args, " ")
		reply, err := request(cmd, protocol.KeywordShell+stmt)
		if err != nil {
			return err
		}
		if reply == "" {
			printer.Info("Statement ran; ret was not set\n")
			return nil
		}
		return printer.JSON(transport.Decode(reply))
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
