package main

import (
	"github.com/spf13/cobra"
)

func newListActiveCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list-active",
		Short: "List currently queued or running submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := s.openBroker()
			if err != nil {
				return err
			}
			envs, err := gw.InspectActive(cmd.Context())
			if err != nil {
				return err
			}
			for _, env := range envs {
				cmd.Printf("%s\t%v\n", env.SubmissionID, env.Args)
			}
			return nil
		},
	}
}

func newStatusCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a submission's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := s.openBroker()
			if err != nil {
				return err
			}
			status, err := gw.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(status)
			return nil
		},
	}
}

func newCancelCmd(s *rootState) *cobra.Command {
	var terminate bool
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Revoke a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := s.openBroker()
			if err != nil {
				return err
			}
			return gw.Revoke(cmd.Context(), args[0], terminate)
		},
	}
	cmd.Flags().BoolVar(&terminate, "terminate", false, "request termination of an already-running invocation")
	return cmd
}

func newCancelPluginCmd(s *rootState) *cobra.Command {
	var terminate bool
	cmd := &cobra.Command{
		Use:   "cancel-plugin <name>",
		Short: "Revoke every active submission for a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := s.openBroker()
			if err != nil {
				return err
			}
			return gw.RevokeByPlugin(cmd.Context(), args[0], terminate)
		},
	}
	cmd.Flags().BoolVar(&terminate, "terminate", false, "request termination of already-running invocations")
	return cmd
}
