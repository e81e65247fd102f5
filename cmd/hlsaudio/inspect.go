package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/agleyzer/hlsaudio/internal/convert"
	"github.com/agleyzer/hlsaudio/internal/parser"
	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/spf13/cobra"
)

func newInspectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <playlist>",
		Short: "Print resolved segment, key and IV details without fetching segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.converterOptions()

			var p *playlist.Playlist
			if args[0] == "-" {
				p, err = parser.Parse(cmd.InOrStdin())
			} else {
				opts.FallbackBase = source.Dir(args[0])
				p, err = convert.Load(cmd.Context(), a.src, args[0])
			}
			if err != nil {
				return err
			}

			sched, err := convert.Plan(p, opts)
			if err != nil {
				return err
			}

			return printSchedule(cmd.OutOrStdout(), p, sched)
		},
	}
}

func printSchedule(w io.Writer, p *playlist.Playlist, sched *convert.Schedule) error {
	fmt.Fprintf(w, "media sequence: %s\n", p.StartSequence)
	fmt.Fprintf(w, "segments:       %d (%d encrypted)\n", len(sched.Steps), sched.Encrypted())
	base := sched.Base
	if base == "" && sched.Origin != convert.BaseNone {
		base = "."
	}
	fmt.Fprintf(w, "base:           %s (%s)\n", base, sched.Origin)
	if uris := p.KeyURIs(); len(uris) > 1 {
		fmt.Fprintf(w, "warning:        %d key URIs; only the first key is used\n", len(uris))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSEQUENCE\tMETHOD\tLOCATION\tKEY")
	for _, step := range sched.Steps {
		key := "-"
		if step.KeyLocation != "" {
			key = step.KeyLocation
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", step.Index, step.Sequence, step.Method, step.Location, key)
	}
	return tw.Flush()
}
