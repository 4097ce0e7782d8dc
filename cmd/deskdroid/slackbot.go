package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jadenj13/deskdroid/internals/config"
	"github.com/jadenj13/deskdroid/internals/observability"
	"github.com/jadenj13/deskdroid/internals/session"
	"github.com/jadenj13/deskdroid/internals/slack"
)

var slackPreset string

var slackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Take requests from Slack mentions and DMs and answer in thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		botToken := config.ResolveEnvVars(cfg.Slack.BotToken)
		appToken := config.ResolveEnvVars(cfg.Slack.AppToken)
		if botToken == "" || appToken == "" {
			return fmt.Errorf("slack.bot_token and slack.app_token are required")
		}
		preset, err := cfg.Preset(slackPreset)
		if err != nil {
			return err
		}

		metrics := observability.NewMetrics()
		if cfg.Metrics.Addr != "" {
			go func() {
				if err := metrics.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
					log.Error("metrics server failed", "err", err)
				}
			}()
		}

		runner, err := session.New(ctx, cfg, preset, session.Deps{Log: log, Metrics: metrics})
		if err != nil {
			return err
		}
		agent := slack.NewThreadAgent(session.NewStore(), runner, log)

		handler, err := slack.NewHandler(ctx, botToken, appToken, agent, log)
		if err != nil {
			return err
		}
		log.Info("slack bot starting", "preset", slackPreset)
		return handler.Run(ctx)
	},
}

func init() {
	slackCmd.Flags().StringVar(&slackPreset, "preset", "default", "named preset used for every thread")
}
