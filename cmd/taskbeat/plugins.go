package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskbeat/taskbeat/internal/broker"
)

// parseKVFlags turns the "k=v" values of the repeated --param flag into a
// parameters map, decoding each value as JSON when possible and falling
// back to a raw string otherwise. Parameters are given as --param k=v;
// bare --k=v flags are not accepted.
func parseKVFlags(pairs []string) (map[string]any, error) {
	params := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, newUsageError(fmt.Sprintf("invalid --param %q, expected k=v", pair))
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		params[key] = decoded
	}
	return params, nil
}

func newListPluginsCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list-plugins",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, errs := s.openRegistry()
			for _, err := range errs {
				s.log.WithError(err).Warn("plugin excluded from registry")
			}
			for _, p := range reg.List() {
				status := "enabled"
				if !p.Manifest.Enabled {
					status = "disabled"
				}
				cmd.Printf("%s\t%s\t%s\n", p.Name, p.Manifest.Version, status)
			}
			return nil
		},
	}
}

func newTestPluginCmd(s *rootState) *cobra.Command {
	var paramFlags []string
	cmd := &cobra.Command{
		Use:   "test-plugin <name>",
		Short: "Execute a plugin synchronously and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseKVFlags(paramFlags)
			if err != nil {
				return err
			}

			inv, loader, err := s.openInvoker()
			if err != nil {
				return err
			}
			defer loader.Close()

			result, err := inv.Execute(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			cmd.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&paramFlags, "param", nil, "plugin parameter as key=value, repeatable")
	return cmd
}

func newReloadCmd(s *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <name>",
		Short: "Force a hot reload of a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, err := s.openInvoker()
			if err != nil {
				return err
			}
			defer loader.Close()
			return loader.Reload(args[0])
		},
	}
}

func newTriggerCmd(s *rootState) *cobra.Command {
	var paramFlags []string
	var priority int
	cmd := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Submit a plugin invocation to the broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseKVFlags(paramFlags)
			if err != nil {
				return err
			}

			gw, err := s.openBroker()
			if err != nil {
				return err
			}

			id, err := gw.Submit(cmd.Context(), args[0], params, broker.Options{Priority: priority})
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&paramFlags, "param", nil, "plugin parameter as key=value, repeatable")
	cmd.Flags().IntVar(&priority, "priority", 0, "submission priority")
	return cmd
}
