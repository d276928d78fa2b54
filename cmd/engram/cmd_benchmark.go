package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/benchmark/recall"
)

var (
	benchDataset string
	benchTurns   int
	benchSeed    int64
	benchTopK    int
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure retrieval quality as the corpus grows",
	Long: `Ingests a conversational corpus through the prediction-error gate and
re-evaluates annotated questions at growing corpus sizes, reporting
recall@k, hit rate, MRR, and answer-token F1 per checkpoint.

With --dataset, a LoCoMo-shaped JSON file is used; otherwise a
deterministic synthetic corpus is generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var ds *recall.Dataset
		if benchDataset != "" {
			ds, err = recall.LoadDataset(benchDataset)
			if err != nil {
				return err
			}
		} else {
			ds = recall.GenerateSynthetic(benchTurns, benchSeed)
		}

		cfg := recall.DefaultConfig()
		if benchTopK > 0 {
			cfg.TopK = benchTopK
		}

		runner := recall.NewRunner(eng, cfg)
		result, err := runner.Run(context.Background(), ds)
		if err != nil {
			return err
		}
		fmt.Print(recall.FormatReport(result))
		return nil
	},
}

func init() {
	benchmarkCmd.Flags().StringVar(&benchDataset, "dataset", "", "path to a LoCoMo-shaped dataset JSON")
	benchmarkCmd.Flags().IntVar(&benchTurns, "turns", 500, "synthetic corpus size in turns")
	benchmarkCmd.Flags().Int64Var(&benchSeed, "seed", 7, "synthetic corpus seed")
	benchmarkCmd.Flags().IntVar(&benchTopK, "top_k", 5, "retrieval depth")

	rootCmd.AddCommand(benchmarkCmd)
}
