package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var forceFullSync bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage sync operations for a tenant",
}

var syncTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a sync for the configured tenant",
	RunE: func(c *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := doRequest("POST", "/sync/trigger", map[string]bool{"force_full_sync": forceFullSync}, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sync status for the configured tenant",
	RunE: func(c *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := doRequest("GET", "/sync/status", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the sync currently running for the configured tenant",
	RunE: func(c *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := doRequest("POST", "/sync/cancel", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch sync progress live in a terminal dashboard",
	RunE: func(c *cobra.Command, args []string) error {
		return runWatch(serverURL, apiKey)
	},
}

func init() {
	syncTriggerCmd.Flags().BoolVar(&forceFullSync, "force-full", false, "force a full resync regardless of content hash")
	syncCmd.AddCommand(syncTriggerCmd, syncStatusCmd, syncCancelCmd, syncWatchCmd)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
