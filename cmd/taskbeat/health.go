package main

import (
	"github.com/spf13/cobra"
)

func newHealthCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the task store and broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore(cmd.Context())
			if err != nil {
				cmd.Println("store: unreachable")
				return err
			}
			defer st.Close()
			cmd.Println("store: ok")

			gw, err := s.openBroker()
			if err != nil {
				cmd.Println("broker: unreachable")
				return err
			}
			if closer, ok := gw.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			cmd.Println("broker: ok")
			return nil
		},
	}
}
