// -- cmd/logs.go --
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// newLogsCmd creates the `logs` command, which reads the rotating log file
// configured under logger.log_file.
func newLogsCmd() *cobra.Command {
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the service log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tailLogs(cmd.Context(), cmd.OutOrStdout(), cfg.Logger.LogFile, follow)
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep the file open and stream new lines")
	return logsCmd
}

// tailLogs copies the log file to out. Without follow it stops at EOF; with
// follow it starts at the end of the file and streams appended lines until
// ctx is cancelled, surviving rotation via ReOpen.
func tailLogs(ctx context.Context, out io.Writer, path string, follow bool) error {
	if path == "" {
		return fmt.Errorf("logger.log_file is not configured")
	}

	cfg := tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}
	if follow {
		cfg.Location = &tail.SeekInfo{Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer t.Cleanup()

	go func() {
		<-ctx.Done()
		t.Stop()
	}()

	for line := range t.Lines {
		if line.Err != nil {
			return fmt.Errorf("reading log file: %w", line.Err)
		}
		fmt.Fprintln(out, line.Text)
	}
	return nil
}
