package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-guard/internal/analyzer"
	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/recommend"
)

type analyzeOutput struct {
	Results         []analyzer.Result          `json:"results"`
	Summary         convo.Summary              `json:"summary"`
	Context         *convo.ConversationContext `json:"context,omitempty"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var (
		file        string
		limit       int
		contextual  bool
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [message...]",
		Short: "Analyze user messages and print recommendations",
		Long: `Feed one or more user messages through a fresh conversation and print the
resulting summary and ranked tool recommendations.

Each argument is one message. With no arguments, messages are read one per
line from --file or standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs := args
			if len(msgs) == 0 {
				in := cmd.InOrStdin()
				if file != "" {
					f, err := os.Open(file)
					if err != nil {
						return fmt.Errorf("open messages: %w", err)
					}
					defer f.Close()
					in = f
				}
				var err error
				if msgs, err = readLines(in); err != nil {
					return err
				}
			}
			if len(msgs) == 0 {
				return fmt.Errorf("no messages to analyze")
			}

			reg, err := root.registry()
			if err != nil {
				return fmt.Errorf("load catalogue: %w", err)
			}

			store := convo.NewStore()
			a := analyzer.New()
			out := analyzeOutput{}
			for _, m := range msgs {
				out.Results = append(out.Results, a.Analyze(store, m, analyzer.RoleUser))
			}

			snap := store.Snapshot()
			engine := recommend.NewEngine(reg)
			last := msgs[len(msgs)-1]
			if contextual {
				out.Recommendations, err = engine.Recommend(snap, last, limit)
			} else {
				out.Recommendations, err = engine.RecommendFused(snap, last, limit)
			}
			if err != nil {
				return err
			}
			if out.Recommendations == nil {
				out.Recommendations = []recommend.Recommendation{}
			}

			out.Summary = snap.Summarize()
			if showContext {
				out.Context = &snap
			}
			return root.writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read messages from file, one per line")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of recommendations")
	cmd.Flags().BoolVar(&contextual, "contextual-only", false, "Rank with the contextual factors only")
	cmd.Flags().BoolVar(&showContext, "context", false, "Include the full conversation context")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return lines, nil
}
