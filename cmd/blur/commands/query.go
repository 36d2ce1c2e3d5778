package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/protocol"
	"github.com/dyluth/blur/internal/transport"
	"github.com/spf13/cobra"
)

var (
	codeClass bool
	codeRaw   bool
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List the applications running a blur server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := discover(ctx, cfg)
		if err != nil {
			return err
		}

		names := dir.ServerNames()
		if len(names) == 0 {
			printer.Info("No applications found on ports %d-%d\n",
				cfg.Server.BasePort, cfg.Server.BasePort+cfg.Server.PortCount-1)
			return nil
		}

		w := tabwriter.NewWriter(printer.Output, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "APP\tPORT")
		for _, name := range names {
			port, _ := dir.Port(name)
			fmt.Fprintf(w, "%s\t%d\n", name, port)
		}
		return w.Flush()
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <request>",
	Short: "Send a raw protocol request",
	Long: `Send a raw protocol request and print the decoded reply.

Examples:
  blur send APP
  blur send 'CLASS_MEMBERS:Button' --target Alpha`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := request(cmd, args[0])
		if err != nil {
			return err
		}
		if reply == "" {
			return noReply(args[0])
		}
		return printer.JSON(transport.Decode(reply))
	},
}

// dumpCommand builds a command that prints the reply to a fixed request.
func dumpCommand(use, short, keyword string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := request(cmd, keyword)
			if err != nil {
				return err
			}
			if reply == "" {
				return noReply(keyword)
			}
			return printer.JSON(transport.Decode(reply))
		},
	}
}

var membersCmd = &cobra.Command{
	Use:   "members <class>",
	Short: "Describe the methods a class declares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := request(cmd, protocol.KeywordClassMembers+args[0])
		if err != nil {
			return err
		}
		if reply == "" {
			return printer.Error(
				"unknown class",
				fmt.Sprintf("The application has no class called %q.", args[0]),
				[]string{"List the classes with:\n  blur classes"},
			)
		}
		return printer.JSON(transport.Decode(reply))
	},
}

var codeCmd = &cobra.Command{
	Use:   "code <identity>",
	Short: "Print the source of a function or method",
	Long: `Print the source of a function (by identity) or of a method (by
module.Class.method path with --class).

Examples:
  blur code 0x00000003
  blur code demo/widgets.Button.click --class --raw > click.lua`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := protocol.KeywordCode + args[0]
		if codeClass {
			req += ":CLASS"
		}
		reply, err := request(cmd, req)
		if err != nil {
			return err
		}
		if reply == "" {
			return printer.Error(
				"no source",
				fmt.Sprintf("No source is available for %s.", args[0]),
				[]string{
					"List function identities with:\n  blur framework",
					"Use --class for module.Class.method paths",
				},
			)
		}
		if codeRaw {
			fmt.Fprint(printer.Output, reply)
			return nil
		}
		printer.Source(reply)
		return nil
	},
}

func init() {
	codeCmd.Flags().BoolVar(&codeClass, "class", false, "Treat the identity as a module.Class.method path")
	codeCmd.Flags().BoolVar(&codeRaw, "raw", false, "Print the source without line numbers")

	rootCmd.AddCommand(appsCmd, sendCmd, membersCmd, codeCmd)
	rootCmd.AddCommand(
		dumpCommand("functions", "Show the blurred function network", protocol.KeywordBlurFunctions),
		dumpCommand("framework", "Show the registered functions by identity", protocol.KeywordFramework),
		dumpCommand("classes", "List the blur-capable classes", protocol.KeywordClassFramework),
	)
}
