package cmd

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	pluginDetails bool
	pluginReload  bool
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the work units known to the training service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		query.Set("include_details", strconv.FormatBool(pluginDetails))
		query.Set("reload_plugins", strconv.FormatBool(pluginReload))
		var out map[string]interface{}
		if err := newClient(serverURL).get(cmd.Context(), "/plugins", query, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out["plugins"])
	},
}

func init() {
	pluginsCmd.Flags().BoolVar(&pluginDetails, "details", false, "include arguments and datasets of each work unit")
	pluginsCmd.Flags().BoolVar(&pluginReload, "reload", false, "reload the work units before listing them")
	rootCmd.AddCommand(pluginsCmd)
}
