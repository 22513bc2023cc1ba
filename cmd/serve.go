package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"jukebox/internal/engine"
	"jukebox/internal/platform"
	"jukebox/internal/platform/youtube"
	"jukebox/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the jukebox server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			gin.SetMode(gin.ReleaseMode)

			registry := platform.NewRegistry()
			registry.Register(youtube.New(youtube.Config{
				APIKey:  cfg.YouTube.APIKey,
				BaseURL: cfg.YouTube.BaseURL,
				Timeout: cfg.YouTube.Timeout,
			}, nil))
			if !cfg.YouTubeConfigured() {
				log.Warn().Msg("no YouTube API key configured, search will fail")
			}

			srv := server.New(server.Options{
				Addr:           cfg.Server.Addr(),
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Engine: engine.Config{
					TickInterval:    cfg.Engine.TickInterval,
					AutoAdvance:     cfg.Engine.AutoAdvance,
					DefaultDuration: cfg.Engine.DefaultDuration,
				},
				Seed:     cfg.Engine.SeedTracks(),
				Searcher: registry.Default(),
			}, log)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("addr", cfg.Server.Addr()).
				Strs("platforms", registry.ListPlatforms()).
				Int("seed", len(cfg.Engine.Seed)).
				Msg("starting jukebox server")
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
