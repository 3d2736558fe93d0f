package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	runArgs      map[string]string
	runDatasets  map[string]string
	runWait      bool
	pollWait     bool
	pollInterval time.Duration
)

// taskResult mirrors the poll response of the training service.
type taskResult struct {
	Ready      bool            `json:"ready"`
	Successful *bool           `json:"successful"`
	Value      json.RawMessage `json:"value"`
}

var runCmd = &cobra.Command{
	Use:   "run [work unit]",
	Short: "Start a training task",
	Example: `  chimpctl run "Example 2 Plugin" --arg start_value=10 --dataset dataset=TestingDataset
  chimpctl run "Linear Regression" --dataset dataset=Houses --arg model_name=houses --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := startTask(cmd.Context(), newClient(serverURL), args[0], runArgs, runDatasets)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task started successfully!\nTask ID: %s\n", taskID)
		if !runWait {
			fmt.Fprintf(cmd.OutOrStdout(), "To poll for the result, run: chimpctl poll %s\n", taskID)
			return nil
		}
		res, err := waitForTask(cmd.Context(), newClient(serverURL), taskID, pollInterval)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll [task-id]",
	Short: "Show the status of a training task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(serverURL)
		var (
			res *taskResult
			err error
		)
		if pollWait {
			res, err = waitForTask(cmd.Context(), c, args[0], pollInterval)
		} else {
			res, err = pollTask(cmd.Context(), c, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func startTask(ctx context.Context, c *apiClient, workUnit string, arguments, datasets map[string]string) (string, error) {
	form := url.Values{}
	for k, v := range arguments {
		form.Set(k, v)
	}
	if len(datasets) > 0 {
		data, err := json.Marshal(datasets)
		if err != nil {
			return "", err
		}
		form.Set("datasets", string(data))
	}
	var out struct {
		Status string `json:"status"`
		TaskID string `json:"task_id"`
	}
	if err := c.postForm(ctx, "/tasks/run/"+url.PathEscape(workUnit), form, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func pollTask(ctx context.Context, c *apiClient, taskID string) (*taskResult, error) {
	var res taskResult
	if err := c.get(ctx, "/tasks/poll/"+url.PathEscape(taskID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// waitForTask polls until the task is ready or ctx ends.
func waitForTask(ctx context.Context, c *apiClient, taskID string, interval time.Duration) (*taskResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := pollTask(ctx, c, taskID)
		if err != nil {
			return nil, err
		}
		if res.Ready {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	runCmd.Flags().StringToStringVar(&runArgs, "arg", nil, "work unit argument as key=value (repeatable)")
	runCmd.Flags().StringToStringVar(&runDatasets, "dataset", nil, "dataset mapping as key=dataset-name (repeatable)")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "wait for the task to finish")
	runCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "poll interval when waiting")
	pollCmd.Flags().BoolVar(&pollWait, "wait", false, "wait until the task is ready")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "poll interval when waiting")
	rootCmd.AddCommand(runCmd, pollCmd)
}
