package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/protocol"
	"github.com/spf13/cobra"
)

var updateFile string

var updateCmd = &cobra.Command{
	Use:   "update <identity>",
	Short: "Replace a function or method in the running application",
	Long: `Send replacement source for a function or method.

The identity is either a function identity (see 'blur framework') or a
module.Class.method path. The source must define a single function whose
name matches the one being replaced. Methods are patched on every live
instance; instances created afterwards keep the original method.

Examples:
  # Replace a free function from a file
  blur update 0x00000003 --file greet.lua

  # Patch a method from stdin
  blur code demo/widgets.Button.click --class --raw | sed 's/clicked/pressed/' | \
    blur update demo/widgets.Button.click`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		source, err := readSource(updateFile)
		if err != nil {
			return printer.Error(
				"cannot read source",
				err.Error(),
				[]string{"Pass the replacement with --file <path>, or pipe it on stdin"},
			)
		}
		if strings.TrimSpace(source) == "" {
			return printer.Error(
				"empty source",
				"The replacement source is empty.",
				[]string{"Pass the replacement with --file <path>, or pipe it on stdin"},
			)
		}

		reply, err := request(cmd, protocol.KeywordUpdate+id+"|"+source)
		if err != nil {
			return err
		}
		if reply == "" {
			return noReply("UPDATE")
		}

		var res protocol.UpdateReply
		if err := json.Unmarshal([]byte(reply), &res); err != nil {
			return fmt.Errorf("failed to parse update reply: %w", err)
		}
		if !res.OK {
			return printer.ErrorWithContext(
				"update failed",
				res.Error,
				map[string]string{"Target": id},
				[]string{
					"Check the source compiles and defines the function being replaced",
					"Fetch the current source with:\n  blur code " + id,
				},
			)
		}

		switch res.Kind {
		case "method":
			printer.Success("Patched %s on %d instance(s)\n", id, res.Instances)
			if res.Failed > 0 {
				printer.Warning("%d instance(s) failed blurSandbox\n", res.Failed)
			}
		default:
			printer.Success("Replaced %s (%d wrapper(s) relinked)\n", id, res.Relinked)
		}
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVarP(&updateFile, "file", "f", "-", "Source file, or - for stdin")
	rootCmd.AddCommand(updateCmd)
}

// readSource reads update source from path, or stdin when path is "-".
func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read source from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	return string(data), nil
}
