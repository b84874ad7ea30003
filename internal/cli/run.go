package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStopCmd(clientFn, outputFn),
		newRunLogsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var sourceID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				SourceID: sourceID,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "SOURCE", "MODE", "STATUS", "RECORDS", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID, r.SourceName, r.Mode, r.Status,
					strconv.FormatInt(r.RecordsSynced, 10), FormatTime(r.StartedAt),
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source-id", "", "Filter by source ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, DISCOVERING, RUNNING, COMPLETED, FAILED, STOPPED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "SOURCE", "MODE", "STATUS", "RECORDS", "STREAMS", "ERROR"},
				[][]string{{
					run.ID, run.SourceName, run.Mode, run.Status,
					strconv.FormatInt(run.RecordsSynced, 10),
					strconv.Itoa(run.StreamsDiscovered), Dash(run.Error),
				}},
				run,
			)
			return nil
		},
	}
}

func newRunStopCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.StopRun(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Stop requested: %s", args[0]))
			return nil
		},
	}
}

func newRunLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var follow bool
	var token string

	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Show run logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if !follow {
				run, err := client.GetRun(args[0])
				if err != nil {
					return err
				}
				if run.Log != "" {
					fmt.Println(run.Log)
				}
				return nil
			}

			// Живой поток: реплей истории, затем события до терминального
			return client.StreamRun(args[0], token, func(ev StreamEvent) {
				switch ev.Type {
				case "log_history":
					for _, line := range ev.Lines {
						fmt.Println(line)
					}
				case "log":
					fmt.Println(ev.Line)
				case "error":
					out.Error(ev.Message)
				case "complete":
					msg := fmt.Sprintf("Run %s: %d records, %d streams",
						ev.Status, ev.RecordsSynced, ev.StreamsDiscovered)
					if ev.Message != "" {
						msg += " (" + ev.Message + ")"
					}
					out.Success(msg)
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs until the run finishes")
	cmd.Flags().StringVar(&token, "token", "", "Stream token from the sync response (live runs only)")

	return cmd
}
