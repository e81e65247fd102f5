package main

import (
	"github.com/agleyzer/hlsaudio/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr       string
		allowLocal bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over HTTP",
		Long: `serve starts an HTTP service:

  GET  /convert?url=<playlist>[&base=...]  convert a playlist by location
  POST /convert[?base=...]                 convert the playlist in the request body
  GET  /health                             service status and counters
  GET  /metrics                            Prometheus metrics

Requests may only name remote locations unless --allow-local is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("allow-local") {
				a.cfg.Server.AllowLocal = allowLocal
			}

			srv := server.New(a.newConverter(nil), server.Options{
				Addr:        a.cfg.Server.Addr,
				ContentType: a.cfg.Server.ContentType,
				AllowLocal:  a.cfg.Server.AllowLocal,
			}, a.logger.Named("server"))

			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&allowLocal, "allow-local", false, "Allow requests to read local files")
	return cmd
}
