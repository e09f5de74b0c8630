package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-research/app"
	"github.com/sweetpotato0/ai-research/runner"
	"github.com/sweetpotato0/ai-research/server"
)

type batchLine struct {
	ID       string           `json:"id"`
	Response *server.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func batchCMD(load loader) *cobra.Command {
	var endUser string
	var batch = &cobra.Command{
		Use:   "batch [file]",
		Short: "Research every question in a file (one per line, - for stdin), printing JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			tasks, err := readTasks(in, endUser)
			if err != nil {
				return err
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, res := range a.Runner.RunParallel(ctx, tasks) {
				line := batchLine{ID: res.TaskID}
				if res.Error != nil {
					line.Error = res.Error.Error()
					failed++
				} else {
					resp := server.NewResponse(res.State)
					line.Response = &resp
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d questions failed", failed, len(tasks))
			}
			return nil
		},
	}
	batch.Flags().StringVar(&endUser, "end-user", "", "end user id forwarded to the document store")

	return batch
}

// readTasks turns non-blank, non-comment lines into tasks numbered by line.
func readTasks(r io.Reader, endUser string) ([]runner.Task, error) {
	var tasks []runner.Task
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		q := strings.TrimSpace(sc.Text())
		if q == "" || strings.HasPrefix(q, "#") {
			continue
		}
		tasks = append(tasks, runner.Task{ID: strconv.Itoa(n), Question: q, EndUserID: endUser})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no questions found")
	}
	return tasks, nil
}
