package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewSourceCmd создаёт группу команд для управления источниками.
func NewSourceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage sources",
	}

	cmd.AddCommand(
		newSourceListCmd(clientFn, outputFn),
		newSourceCreateCmd(clientFn, outputFn),
		newSourceShowCmd(clientFn, outputFn),
		newSourceDeleteCmd(clientFn, outputFn),
		newSourceSyncCmd(clientFn, outputFn),
		newSourceDiscoverCmd(clientFn, outputFn),
	)

	return cmd
}

func newSourceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sources, err := client.ListSources()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "TAP", "LOADER", "CREATED"}
			rows := make([][]string, len(sources))
			for i, s := range sources {
				rows[i] = []string{s.ID, s.Name, s.TapType, Dash(s.LoaderType), FormatTime(s.CreatedAt)}
			}

			out.Print(headers, rows, sources)
			return nil
		},
	}
}

func newSourceCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tapType string
	var configPath string
	var loaderType string
	var loaderConfigPath string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			config, err := readJSONFile(configPath)
			if err != nil {
				return err
			}

			req := CreateSourceRequest{
				Name:       args[0],
				TapType:    tapType,
				Config:     config,
				LoaderType: loaderType,
			}
			if loaderConfigPath != "" {
				req.LoaderConfig, err = readJSONFile(loaderConfigPath)
				if err != nil {
					return err
				}
			}

			src, err := client.CreateSource(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Source created: %s", src.ID))
			out.Print(
				[]string{"ID", "NAME", "TAP", "LOADER"},
				[][]string{{src.ID, src.Name, src.TapType, src.LoaderType}},
				src,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tapType, "tap", "", "Extractor binary name (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to tap config JSON (required)")
	cmd.Flags().StringVar(&loaderType, "loader", "", "Loader binary name")
	cmd.Flags().StringVar(&loaderConfigPath, "loader-config", "", "Path to loader config JSON")
	cmd.MarkFlagRequired("tap")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newSourceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show source details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			src, err := client.GetSource(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "TAP", "LOADER", "CREATED"},
				[][]string{{src.ID, src.Name, src.TapType, Dash(src.LoaderType), FormatTime(src.CreatedAt)}},
				src,
			)
			return nil
		},
	}
}

func newSourceDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteSource(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Source deleted: %s", args[0]))
			return nil
		},
	}
}

func newSourceSyncCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "sync ID",
		Short: "Start a sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			started, err := client.StartSync(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", started.Run.ID))

			if !follow {
				out.Print(
					[]string{"RUN_ID", "STATUS", "STREAM_TOKEN"},
					[][]string{{started.Run.ID, started.Run.Status, started.StreamToken}},
					started,
				)
				return nil
			}

			return client.StreamRun(started.Run.ID, started.StreamToken, func(ev StreamEvent) {
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
					msg := fmt.Sprintf("Run %s: %d records synced", ev.Status, ev.RecordsSynced)
					if ev.Message != "" {
						msg += " (" + ev.Message + ")"
					}
					out.Success(msg)
				}
			})
		},
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs until the run finishes")

	return cmd
}

func newSourceDiscoverCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "discover ID",
		Short: "Discover source schemas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.Discover(args[0])
			if err != nil {
				return err
			}

			if run.Status != "COMPLETED" {
				out.Error(fmt.Sprintf("Discovery %s: %s", run.Status, run.Error))
				if run.Log != "" {
					fmt.Fprintln(os.Stderr, run.Log)
				}
				return fmt.Errorf("discovery did not complete")
			}

			out.Success(fmt.Sprintf("Discovered %d streams", run.StreamsDiscovered))
			out.JSON(run.Catalog)
			return nil
		},
	}
}

// readJSONFile читает файл и проверяет, что это валидный JSON.
func readJSONFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
