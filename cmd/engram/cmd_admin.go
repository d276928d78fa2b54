package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/claude"
	"github.com/engramhq/engram/internal/dependencies"
)

var (
	changelogLimit int
	connectProject string
	connectMax     int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		s, err := eng.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Memories: %d (%d embedded, %d connections)\n",
			s.TotalNodes, s.WithEmbedding, s.TotalConnections)
		fmt.Printf("Avg stability %.2fd, avg retention %.3f\n", s.AvgStability, s.AvgRetention)
		fmt.Printf("Due for review: %d\n", s.DueForReview)
		for t, c := range s.ByType {
			fmt.Printf("  %-10s %d\n", t, c)
		}
		return nil
	},
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Show recent state transitions across all memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		entries, err := eng.Changelog(time.Time{}, changelogLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-16s %s", e.Timestamp.Format("2006-01-02 15:04"), e.Kind, e.Summary)
			if e.MemoryID != "" {
				fmt.Printf("  [%s]", e.MemoryID)
			}
			fmt.Println()
		}
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a consolidation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		rec, err := eng.TriggerConsolidation("cli")
		if err != nil {
			return err
		}
		fmt.Printf("Recomputed %d, merged %d, pruned %d connections.\n",
			rec.RecomputedCount, rec.MergedCount, rec.PrunedConnections)
		if len(rec.PhaseErrors) > 0 {
			fmt.Printf("Phase errors: %s\n", strings.Join(rec.PhaseErrors, "; "))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all memories as JSON lines (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		n, err := eng.ExportJSON(out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d memories.\n", n)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replay a JSON-lines export through the ingest gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		result, err := eng.ImportJSON(context.Background(), f)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d lines (%d failures).\n", result.Lines, result.Failures)
		for decision, count := range result.Decisions {
			fmt.Printf("  %-12s %d\n", decision, count)
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Checkpoint the WAL and copy the database file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Backup(args[0]); err != nil {
			return err
		}
		fmt.Printf("Backup written to %s.\n", args[0])
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the data directory, store integrity, and optional services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		result := dependencies.Check(cfg)
		fmt.Print(dependencies.FormatReport(result))
		if !result.Healthy() {
			os.Exit(1)
		}
		return nil
	},
}

var connectClaudeCmd = &cobra.Command{
	Use:   "connect-claude",
	Short: "Ingest Claude Code session transcripts through the gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		reader := claude.NewReader("")
		if reader.ClaudeDir() == "" {
			return fmt.Errorf("no ~/.claude directory found")
		}

		connector := claude.NewConnector(reader, eng)
		result, err := connector.Run(context.Background(), claude.ConnectOptions{
			ProjectPath: connectProject,
			MaxPerRun:   connectMax,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d sessions, ingested %d excerpts (%d failures).\n",
			result.SessionsProcessed, result.Ingested, result.Failures)
		for decision, count := range result.Decisions {
			fmt.Printf("  %-12s %d\n", decision, count)
		}
		return nil
	},
}

func init() {
	changelogCmd.Flags().IntVar(&changelogLimit, "limit", 50, "max transitions")
	connectClaudeCmd.Flags().StringVar(&connectProject, "project", "", "restrict to one project path")
	connectClaudeCmd.Flags().IntVar(&connectMax, "max", 0, "cap ingested excerpts (0 = unlimited)")

	rootCmd.AddCommand(statsCmd, changelogCmd, consolidateCmd,
		exportCmd, importCmd, backupCmd, doctorCmd, connectClaudeCmd)
}
