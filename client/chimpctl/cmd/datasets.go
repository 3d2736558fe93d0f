package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Manage datasets on the training service",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Datasets []string `json:"datasets"`
		}
		if err := newClient(serverURL).get(cmd.Context(), "/datasets", nil, &out); err != nil {
			return err
		}
		for _, name := range out.Datasets {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var datasetsFilesCmd = &cobra.Command{
	Use:   "files [name]",
	Short: "List the files of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Files []string `json:"files"`
		}
		if err := newClient(serverURL).get(cmd.Context(), "/datasets/"+url.PathEscape(args[0]), nil, &out); err != nil {
			return err
		}
		for _, f := range out.Files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

var datasetsUploadCmd = &cobra.Command{
	Use:   "upload [name] [zip file]",
	Short: "Upload a zipped folder as a new dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		err := newClient(serverURL).postFile(cmd.Context(), "/datasets", args[1], map[string]string{"dataset_name": args[0]}, &out)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", out["status"])
		return nil
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd, datasetsFilesCmd, datasetsUploadCmd)
	rootCmd.AddCommand(datasetsCmd)
}
