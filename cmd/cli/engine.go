package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"autoflow/internal/server"
	"autoflow/internal/services"

	"github.com/spf13/cobra"
)

var (
	triggerDataJSON string
	eventSource     string
	eventDataJSON   string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every due scheduled rule once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.engine.Triggers.ExecuteScheduledRules(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <rule-id>",
	Short: "Execute a single rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		data, err := parseObject(triggerDataJSON)
		if err != nil {
			return fmt.Errorf("--data: %w", err)
		}

		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.engine.Coordinator.ExecuteRule(cmd.Context(), uint(id), data)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <event-type>",
	Short: "Fire an event and run every matching rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseObject(eventDataJSON)
		if err != nil {
			return fmt.Errorf("--data: %w", err)
		}

		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.engine.Triggers.TriggerEventBasedRules(cmd.Context(), services.EventData{
			EventType:   args[0],
			EventSource: eventSource,
			Data:        data,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the automation tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()
		return server.Migrate(rt.db, rt.logger)
	},
}

func init() {
	executeCmd.Flags().StringVar(&triggerDataJSON, "data", "", "trigger data as a JSON object")
	triggerCmd.Flags().StringVar(&eventSource, "source", "", "event source")
	triggerCmd.Flags().StringVar(&eventDataJSON, "data", "", "event payload as a JSON object")
	rootCmd.AddCommand(sweepCmd, executeCmd, triggerCmd, migrateCmd)
}

func parseObject(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
