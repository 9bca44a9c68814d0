package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"splinewarp/internal/logging"
	"splinewarp/pkg/config"
)

// cli carries the state shared by every subcommand
type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	c := &cli{}
	if err := c.rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "splinewarp",
		Short: "Fit spline kernel transforms from landmarks and apply them to images and points",
		Long: `splinewarp fits a spline kernel transform that carries fixed image
landmarks onto moving image landmarks, stores it as a transform parameter
file, and applies parameter files to images and point sets.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "splinewarp.yaml", "Configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(c.fitCommand(), c.applyCommand(), c.configCommand())
	return root
}

// setup loads the configuration and the console logger
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Output.Verbose = true
	}
	c.cfg = cfg

	logger, _, err := logging.Setup(logging.Options{
		App:       "splinewarp",
		ToConsole: cfg.Output.LogToConsole,
		Console:   cmd.ErrOrStderr(),
		Verbose:   cfg.Output.Verbose,
	})
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file holding the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	})
	return cmd
}
