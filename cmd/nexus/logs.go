package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <path>",
		Short: "Print (optionally follow) a run's structured log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return newUsageError(err)
			}
			defer f.Close()

			r := bufio.NewReader(f)
			if _, err := io.Copy(cmd.OutOrStdout(), r); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			for {
				line, err := r.ReadString('\n')
				if len(line) > 0 {
					fmt.Fprint(cmd.OutOrStdout(), line)
				}
				if err == io.EOF {
					time.Sleep(200 * time.Millisecond)
					continue
				}
				if err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading as the file grows")
	return cmd
}
