package main

import (
	"github.com/agleyzer/hlsaudio/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var extension string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Convert every playlist written to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("extension") {
				a.cfg.Watch.Extension = extension
			}

			w := watch.New(a.newConverter(nil), watch.Options{
				Dir:       args[0],
				Extension: a.cfg.Watch.Extension,
				Settle:    a.cfg.Watch.Settle,
				Sink:      a.sinkOptions(cmd.OutOrStdout()),
			}, a.logger.Named("watch"))

			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&extension, "extension", "", "Output extension (default from config, .mp3)")
	return cmd
}
