package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/beat"
	"github.com/taskbeat/taskbeat/internal/logging"
)

func newBeatCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "beat",
		Short: "Start the scheduling loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			st, err := s.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			gw, err := s.openBroker()
			if err != nil {
				return err
			}

			loc, err := time.LoadLocation(s.cfg.Timezone)
			if err != nil {
				loc = time.UTC
			}

			sched := beat.New(st, gw, logging.Component(s.log, "beat"),
				beat.WithMaxLoopInterval(s.cfg.MaxLoopInterval),
				beat.WithTimezone(loc),
			)
			s.log.Info("beat scheduler starting")
			sched.Run(ctx)
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
