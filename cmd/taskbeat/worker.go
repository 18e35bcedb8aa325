package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/logging"
	"github.com/taskbeat/taskbeat/internal/worker"
)

func newWorkerCmd(s *rootState) *cobra.Command {
	var queuesFlag string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the plugin-execution worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			gw, err := s.openBrokerRedis()
			if err != nil {
				return err
			}

			inv, loader, err := s.openInvoker()
			if err != nil {
				return err
			}
			defer loader.Close()

			queues := []string{broker.PluginQueue}
			if queuesFlag != "" {
				queues = strings.Split(queuesFlag, ",")
			}

			pool := &worker.Pool{
				Dequeuer:    gw,
				Invoker:     inv,
				Queues:      queues,
				Concurrency: concurrency,
				Log:         logging.Component(s.log, "worker"),
			}
			s.log.WithField("queues", queues).WithField("concurrency", concurrency).Info("worker pool starting")
			pool.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&queuesFlag, "queues", "", "comma-separated queue names (default: plugin_tasks)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of worker goroutines")
	return cmd
}
