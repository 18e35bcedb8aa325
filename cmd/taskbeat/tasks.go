package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/idgen"
	"github.com/taskbeat/taskbeat/internal/store"
)

func newAddTaskCmd(s *rootState) *cobra.Command {
	var name, plugin, scheduleType, scheduleConfig, parameters string
	var priority int

	cmd := &cobra.Command{
		Use:   "add-task",
		Short: "Create a scheduled task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || plugin == "" || scheduleType == "" || scheduleConfig == "" {
				return newUsageError("--name, --plugin, --schedule-type, and --schedule-config are required")
			}
			if priority < 1 || priority > 10 {
				return newUsageError("--priority must be between 1 and 10")
			}

			if !json.Valid([]byte(scheduleConfig)) {
				return newUsageError("--schedule-config must be valid JSON")
			}
			params := parameters
			if params == "" {
				params = "{}"
			}
			if !json.Valid([]byte(params)) {
				return newUsageError("--parameters must be valid JSON")
			}

			st, err := s.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			task := &store.Task{
				ID:             idgen.New(),
				Name:           name,
				PluginName:     plugin,
				Parameters:     json.RawMessage(params),
				ScheduleType:   store.ScheduleType(scheduleType),
				ScheduleConfig: json.RawMessage(scheduleConfig),
				Enabled:        true,
				Priority:       priority,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Upsert(cmd.Context(), task); err != nil {
				return err
			}
			cmd.Println(task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&plugin, "plugin", "", "plugin name")
	cmd.Flags().StringVar(&scheduleType, "schedule-type", "", "interval or cron")
	cmd.Flags().StringVar(&scheduleConfig, "schedule-config", "", "schedule config JSON")
	cmd.Flags().StringVar(&parameters, "parameters", "", "plugin parameters JSON")
	cmd.Flags().IntVar(&priority, "priority", 5, "dispatch priority (1-10)")
	return cmd
}

func newDisableTaskCmd(s *rootState) *cobra.Command {
	return setEnabledCmd(s, "disable-task", "Disable a scheduled task", false)
}

func newEnableTaskCmd(s *rootState) *cobra.Command {
	return setEnabledCmd(s, "enable-task", "Enable a scheduled task", true)
}

func setEnabledCmd(s *rootState, use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			task, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			task.Enabled = enabled
			return st.Upsert(cmd.Context(), task)
		},
	}
}

func newRemoveTaskCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-task <id>",
		Short: "Delete a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Delete(cmd.Context(), args[0])
		},
	}
}
