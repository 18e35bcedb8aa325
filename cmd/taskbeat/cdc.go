package main

import (
	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/cdc"
	"github.com/taskbeat/taskbeat/internal/consumer"
	"github.com/taskbeat/taskbeat/internal/logging"
)

// newCDCConsumerCmd starts the CDC Client + Consumer Manager pair (C7/C8).
// spec.md's CLI surface table doesn't name this subcommand explicitly, but
// C7/C8 need a runtime entrypoint the same way `beat` and `worker` are
// the entrypoints for C6 and the worker pool — added as ambient CLI
// plumbing, not a functional addition.
func newCDCConsumerCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "cdc-consumer",
		Short: "Start the CDC client and consumer manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			gw, err := s.openBroker()
			if err != nil {
				return err
			}

			client := cdc.New(cdc.Config{
				Host:        s.cfg.CDCHost,
				Port:        uint16(s.cfg.CDCPort),
				Destination: s.cfg.CDCDestination,
				BatchSize:   s.cfg.CDCBatchSize,
			}, logging.Component(s.log, "cdc"))

			mgr := consumer.New(gw, logging.Component(s.log, "consumer"))
			registerConsumers(mgr)

			go func() {
				for event := range client.Events() {
					mgr.Dispatch(ctx, event)
				}
			}()

			s.log.Info("cdc consumer starting")
			return client.Run(ctx)
		},
	}
}

// registerConsumers is the operator-configured consumer list. spec.md
// leaves consumer registration as deployment configuration; taskbeat has
// no config-file format for it yet, so this is the single place a fork
// wires its own consumers until one exists.
func registerConsumers(mgr *consumer.Manager) {}
