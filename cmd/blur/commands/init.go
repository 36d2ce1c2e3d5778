package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a blur.yml in the current directory",
	Long: `Create a default blur configuration in the current directory.

Creates:
  • blur.yml - Server, client, update and journal settings
  • .blur/   - State directory holding the update journal

Use --force to reinitialize (WARNING: destroys the existing configuration and journal).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing blur.yml and .blur/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return printer.Error("already initialized", err.Error(), nil)
		}
	}

	if err := scaffold.Initialize(dir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	printer.Success("Initialized blur configuration\n")
	printer.Println("\nCreated:")
	printer.Println("  ✓ " + scaffold.ConfigFile)
	printer.Println("  ✓ " + scaffold.StateDir + "/")
	printer.Println("\nNext steps:")
	printer.Println("  1. Add '" + scaffold.StateDir + "/' to your .gitignore file")
	printer.Println("  2. Start an application, e.g. 'blur demo --app Alpha'")
	printer.Println("  3. Run 'blur apps' to see it")
	return nil
}
