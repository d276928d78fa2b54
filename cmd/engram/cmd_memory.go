package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engine"
)

var (
	rememberNodeType string
	rememberTags     []string
	rememberSource   string

	recallLimit  int
	recallTopics []string

	reviewRating int

	listNodeType string
	listTag      string
	listLimit    int
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory through the prediction-error gate",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.Ingest(context.Background(), engine.IngestRequest{
			Content:  strings.Join(args, " "),
			NodeType: rememberNodeType,
			Tags:     rememberTags,
			Source:   rememberSource,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s\n", result.Decision, result.NodeID)
		fmt.Printf("prediction error %.3f, %s\n", result.PredictionError, result.Reason)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories with the hybrid retrieval pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		resp, err := eng.Search(context.Background(), strings.Join(args, " "), engine.SearchOptions{
			Limit:  recallLimit,
			Topics: recallTopics,
		})
		if err != nil {
			return err
		}

		if len(resp.Results) == 0 {
			fmt.Println("Nothing found.")
			return nil
		}
		for i, r := range resp.Results {
			content := strings.ReplaceAll(r.Node.Content, "\n", " ")
			if len(content) > 100 {
				content = content[:100] + "…"
			}
			fmt.Printf("%2d. %.3f  [%s]  %s\n", i+1, r.Scores.FinalScore, r.Node.NodeType, content)
			fmt.Printf("    id=%s  accessibility=%s", r.Node.ID, r.Scores.Accessibility)
			if r.Scores.CompetitionSuppressed {
				fmt.Printf("  (suppressed)")
			}
			fmt.Println()
		}
		if resp.SuppressedCount > 0 {
			fmt.Printf("%d near-duplicates suppressed.\n", resp.SuppressedCount)
		}
		for _, note := range resp.Notes {
			fmt.Printf("note: %s\n", note)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <memory-id>",
	Short: "Show one memory with its live retention",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		n, err := eng.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s]\n%s\n\n", n.ID, n.NodeType, n.Content)
		fmt.Printf("state=%s reps=%d lapses=%d stability=%.2fd difficulty=%.2f\n",
			n.LearningState, n.Reps, n.Lapses, n.Stability, n.Difficulty)
		fmt.Printf("retention=%.3f retrieval=%.3f storage=%.3f\n",
			n.RetentionStrength, n.RetrievalStrength, n.StorageStrength)
		if n.NextReview != nil {
			fmt.Printf("next review %s\n", n.NextReview.Format("2006-01-02"))
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <memory-id>",
	Short: "Delete a memory and its connections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", args[0])
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <memory-id>",
	Short: "Record a review outcome (1=Again 2=Hard 3=Good 4=Easy)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		outcome, err := eng.MarkReviewed(args[0], reviewRating)
		if err != nil {
			return err
		}
		fmt.Printf("Reviewed with rating %d: state=%s stability=%.2fd next review in %d days.\n",
			outcome.Rating, outcome.Node.LearningState, outcome.Node.Stability, outcome.Interval)
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <memory-id>",
	Short: "Show what each rating would do without committing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		previews, err := eng.PreviewReview(args[0])
		if err != nil {
			return err
		}
		names := map[int]string{1: "Again", 2: "Hard", 3: "Good", 4: "Easy"}
		for _, p := range previews {
			fmt.Printf("%-5s -> state=%-10s stability=%.2fd interval=%dd\n",
				names[int(p.Rating)], p.Result.State.LearningState,
				p.Result.State.Stability, p.Result.State.ScheduledDays)
		}
		return nil
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List memories due for review, most overdue first",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		nodes, err := eng.DueReviews(listLimit)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("Nothing is due.")
			return nil
		}
		for i, n := range nodes {
			content := strings.ReplaceAll(n.Content, "\n", " ")
			if len(content) > 80 {
				content = content[:80] + "…"
			}
			fmt.Printf("%2d. due %s  %s  %s\n", i+1, n.NextReview.Format("2006-01-02"), n.ID, content)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories by type and tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		filters := &database.NodeFilters{NodeType: listNodeType, Limit: listLimit}
		if listTag != "" {
			filters.Tags = []string{listTag}
		}
		nodes, err := eng.List(filters)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			content := strings.ReplaceAll(n.Content, "\n", " ")
			if len(content) > 90 {
				content = content[:90] + "…"
			}
			fmt.Printf("%s  [%s]  %s\n", n.ID, n.NodeType, content)
		}
		fmt.Printf("%d memories.\n", len(nodes))
		return nil
	},
}

var usefulCmd = &cobra.Command{
	Use:   "useful <memory-id>",
	Short: "Mark a recalled memory as having actually helped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.MarkUseful(args[0]); err != nil {
			return err
		}
		fmt.Println("Recorded.")
		return nil
	},
}

func init() {
	rememberCmd.Flags().StringVar(&rememberNodeType, "type", "note", "node type (fact, concept, event, person, place, note, pattern, decision)")
	rememberCmd.Flags().StringSliceVar(&rememberTags, "tags", nil, "topic tags")
	rememberCmd.Flags().StringVar(&rememberSource, "source", "", "provenance")

	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "max results")
	recallCmd.Flags().StringSliceVar(&recallTopics, "topics", nil, "context topics for boosting")

	reviewCmd.Flags().IntVar(&reviewRating, "rating", 3, "review rating 1-4")

	listCmd.Flags().StringVar(&listNodeType, "type", "", "filter by node type")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "max results")
	reviewsCmd.Flags().IntVar(&listLimit, "limit", 20, "max results")

	rootCmd.AddCommand(rememberCmd, recallCmd, getCmd, forgetCmd,
		reviewCmd, previewCmd, reviewsCmd, listCmd, usefulCmd)
}
