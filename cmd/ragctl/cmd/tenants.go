package cmd

import (
	"github.com/spf13/cobra"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Admin operations on tenants",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tenants (requires the admin API key)",
	RunE: func(c *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := doRequest("GET", "/admin/tenants", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	createTenantDisplayName string
	createTenantAPIKey      string
)

var tenantsCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Onboard a new tenant (requires the admin API key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		body := map[string]string{
			"slug":         args[0],
			"display_name": createTenantDisplayName,
			"api_key":      createTenantAPIKey,
		}
		var out map[string]interface{}
		if err := doRequest("POST", "/admin/tenants", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	tenantsCreateCmd.Flags().StringVar(&createTenantDisplayName, "display-name", "", "human-readable tenant name")
	tenantsCreateCmd.Flags().StringVar(&createTenantAPIKey, "tenant-api-key", "", "tenant API key (generated if omitted)")
	tenantsCmd.AddCommand(tenantsListCmd, tenantsCreateCmd)
}
