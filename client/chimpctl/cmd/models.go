package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	inferInputs string
	inferStage  string
	inferID     string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and promote registered models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models and their stages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := newClient(serverURL).get(cmd.Context(), "/models", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out["models"])
	},
}

var modelsPromoteCmd = &cobra.Command{
	Use:   "promote [model] [stage] [run name]",
	Short: "Point a stage of a model at a run",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		form := url.Values{"run_name": {args[2]}}
		path := fmt.Sprintf("/models/%s/stages/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
		var out map[string]interface{}
		if err := newClient(serverURL).postForm(cmd.Context(), path, form, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", out["status"])
		return nil
	},
}

var modelsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Make the serving service re-read the registered models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := newClient(servingURL).postJSON(cmd.Context(), "/models/refresh", nil, struct{}{}, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var inferCmd = &cobra.Command{
	Use:     "infer [model]",
	Short:   "Run inference on the serving service",
	Example: `  chimpctl infer houses --inputs '[[1, 2], [3, 4]]' --stage staging`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var inputs interface{}
		if err := json.Unmarshal([]byte(inferInputs), &inputs); err != nil {
			return fmt.Errorf("--inputs is not valid JSON: %w", err)
		}
		query := url.Values{}
		if inferStage != "" {
			query.Set("stage", inferStage)
		}
		if inferID != "" {
			query.Set("id", inferID)
		}
		var out map[string]interface{}
		path := "/model/" + url.PathEscape(args[0]) + "/infer"
		if err := newClient(servingURL).postJSON(cmd.Context(), path, query, map[string]interface{}{"inputs": inputs}, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out["data"])
	},
}

func init() {
	inferCmd.Flags().StringVar(&inferInputs, "inputs", "", "JSON array of input rows")
	inferCmd.Flags().StringVar(&inferStage, "stage", "", "model stage (production or staging)")
	inferCmd.Flags().StringVar(&inferID, "id", "", "run name of a calibrated model")
	_ = inferCmd.MarkFlagRequired("inputs")
	modelsCmd.AddCommand(modelsListCmd, modelsPromoteCmd, modelsRefreshCmd)
	rootCmd.AddCommand(modelsCmd, inferCmd)
}
