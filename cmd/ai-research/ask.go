package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-research/app"
	"github.com/sweetpotato0/ai-research/graph"
	"github.com/sweetpotato0/ai-research/research"
	"github.com/sweetpotato0/ai-research/server"
)

func askCMD(load loader) *cobra.Command {
	var endUser string
	var asJSON bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Research one question, printing progress after every stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if endUser == "" {
				endUser = cfg.Server.DefaultEndUserID
			}
			out := cmd.OutOrStdout()
			var final research.QueryState
			for step, err := range a.Pipeline.Stream(ctx, strings.Join(args, " "), endUser) {
				if err != nil {
					return err
				}
				final = step.State
				if !asJSON {
					printStep(out, step)
				}
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(server.NewResponse(final))
			}
			printAnswer(out, final)
			return nil
		},
	}
	ask.Flags().StringVar(&endUser, "end-user", "", "end user id forwarded to the document store")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the final response as JSON only")

	return ask
}

func printStep(w io.Writer, step graph.Step[research.QueryState]) {
	st := step.State
	switch step.Node {
	case research.StageSummarize:
		fmt.Fprintf(w, "[%s] %s\n", step.Node, st.Summary)
	case research.StagePlan:
		fmt.Fprintf(w, "[%s] loop %d, %d subquestions\n", step.Node, st.LoopCount+1, len(st.Subqueries))
		for _, q := range st.Subqueries {
			fmt.Fprintf(w, "    - %s\n", q)
		}
	case research.StageRetrieve:
		fmt.Fprintf(w, "[%s] %d sources, %d cited\n", step.Node, len(st.WebResults), len(st.Cited()))
	case research.StageEvaluate:
		overall := 0.0
		if st.Scores != nil {
			overall = st.Scores.Overall
		}
		fmt.Fprintf(w, "[%s] verdict %s, overall %.2f\n", step.Node, st.Evaluation, overall)
	default:
		fmt.Fprintf(w, "[%s] done\n", step.Node)
	}
}

func printAnswer(w io.Writer, st research.QueryState) {
	fmt.Fprintf(w, "\n%s\n", st.FinalAnswer)
	cited := st.Cited()
	if len(cited) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, r := range cited {
		fmt.Fprintf(w, "[%d] %s - %s\n", r.N, r.Title, r.Link)
	}
}
