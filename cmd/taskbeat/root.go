package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/config"
	"github.com/taskbeat/taskbeat/internal/logging"
)

// version is set by the build (ldflags -X main.version=...); it defaults to
// "dev" for local/unreleased builds.
var version = "dev"

type rootState struct {
	cfg *config.Config
	log *logrus.Logger

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:           "taskbeat",
		Short:         "Database-driven plugin scheduler and CDC dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if state.logLevel != "" {
				cfg.LogLevel = state.logLevel
			}
			if state.logFormat != "" {
				cfg.LogFormat = state.logFormat
			}
			state.cfg = cfg
			state.log = logging.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "override TASKBEAT_LOG_LEVEL")
	root.PersistentFlags().StringVar(&state.logFormat, "log-format", "", "override TASKBEAT_LOG_FORMAT")

	root.AddCommand(
		newVersionCmd(),
		newBeatCmd(state),
		newWorkerCmd(state),
		newCDCConsumerCmd(state),
		newListPluginsCmd(state),
		newTestPluginCmd(state),
		newReloadCmd(state),
		newTriggerCmd(state),
		newListActiveCmd(state),
		newStatusCmd(state),
		newCancelCmd(state),
		newCancelPluginCmd(state),
		newAddTaskCmd(state),
		newDisableTaskCmd(state),
		newEnableTaskCmd(state),
		newRemoveTaskCmd(state),
		newHealthCmd(state),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskbeat build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version)
			return nil
		},
	}
}
