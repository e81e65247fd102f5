package main

import (
	"fmt"
	"io"

	"github.com/agleyzer/hlsaudio/internal/sink"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var (
		output   string
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "hlsaudio [flags] <playlist>",
		Short: "Reconstruct one audio file from an HLS media playlist",
		Long: `hlsaudio parses an HLS media playlist, fetches every segment, decrypts
AES-128 segments with IVs derived from their media sequence numbers, and
writes the segments back to back as a single audio stream.

The playlist may be a local path, an http(s) URL, an s3:// object, or "-" for stdin.`,
		Example: `  hlsaudio -o episode.mp3 https://example.com/audio/playlist.m3u8
  hlsaudio --base https://cdn.example.com/audio -o out.aac - < playlist.m3u8
  hlsaudio --concurrency 8 --progress -o s3://archive/show.mp3 playlist.m3u8`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var hook func(done, total int)
			if progress {
				hook = progressHook(cmd.ErrOrStderr())
			}
			conv := a.newConverter(hook)

			input := args[0]
			a.logger.Info("converting playlist", "input", input, "output", output)

			var data []byte
			if input == "-" {
				data, err = conv.Convert(cmd.Context(), cmd.InOrStdin())
			} else {
				data, err = conv.ConvertLocation(cmd.Context(), input)
			}
			if err != nil {
				return err
			}

			if err := sink.Write(cmd.Context(), output, data, a.sinkOptions(cmd.OutOrStdout())); err != nil {
				return err
			}

			a.logger.Info("conversion complete", "bytes", len(data), "output", output)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", `Output file, s3://bucket/key, or "-" for stdout`)
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a progress bar on stderr")

	cmd.AddCommand(
		newInspectCmd(flags),
		newServeCmd(flags),
		newWatchCmd(flags),
	)

	return cmd
}

// progressHook returns a Progress callback that draws a bar once the segment count is known.
func progressHook(w io.Writer) func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription("Converting"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}
		bar.Set(done)
	}
}
