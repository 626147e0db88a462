package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/entityindex"
	"github.com/kittclouds/dice/internal/workerpool"
	"github.com/kittclouds/dice/pkg/analyzer"
	"github.com/kittclouds/dice/pkg/entity"
	"github.com/kittclouds/dice/pkg/extraction"
	"github.com/kittclouds/dice/pkg/llm"
	"github.com/kittclouds/dice/pkg/pipeline"
	"github.com/kittclouds/dice/pkg/resolver"
	"github.com/kittclouds/dice/pkg/reviser"
)

func newIngestCmd() *cobra.Command {
	var contexts []string
	var sourceID string
	var windowSize, overlap int

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract and persist propositions from one or more text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(contexts) == 0 {
				return fmt.Errorf("--context is required")
			}
			if len(contexts) != 1 && len(contexts) != len(args) {
				return fmt.Errorf("--context must be given once (applied to every file) or once per file (%d files, %d contexts given)", len(args), len(contexts))
			}
			if windowSize == 0 {
				windowSize = cfg.Analyzer.WindowSize
			}
			if overlap == 0 {
				overlap = cfg.Analyzer.Overlap
			}
			return runIngestBatch(cmd.Context(), args, contexts, sourceID, windowSize, overlap)
		},
	}

	cmd.Flags().StringSliceVar(&contexts, "context", nil, "DICE context id(s) to write propositions into; repeat per file, or give once to apply to every file")
	cmd.Flags().StringVar(&sourceID, "source", "", "source id for grounding (defaults to each file's path)")
	cmd.Flags().IntVar(&windowSize, "window-size", 0, "override the configured analyzer window size")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "override the configured analyzer window overlap")
	cmd.MarkFlagRequired("context")
	return cmd
}

// runIngestBatch submits one ingest task per file to the shared worker pool
// (§5: "different contexts may run in parallel; a single context processes
// chunks strictly in order"). Files sharing a context id are submitted to
// the same queue and run one at a time in submission order; files with
// distinct context ids may run concurrently, bounded by
// cfg.WorkerPool.Capacity.
func runIngestBatch(ctx context.Context, files, contexts []string, sourceID string, windowSize, overlap int) error {
	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxTokens:  cfg.LLM.MaxTokens,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, log)
	if err != nil {
		return err
	}

	pool, err := workerpool.New(cfg.WorkerPool.Capacity, log)
	if err != nil {
		return err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	errs := make([]error, len(files))
	for i, file := range files {
		i, file := i, file
		contextID := contexts[0]
		if len(contexts) > 1 {
			contextID = contexts[i]
		}
		fileSourceID := sourceID
		if fileSourceID == "" {
			fileSourceID = file
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			errs[i] = ingestFile(ctx, client, contextID, fileSourceID, file, windowSize, overlap)
		}
		if err := pool.Submit(contextID, task); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// ingestFile builds the C3-C7 collaborator chain fresh for one file and
// drives its whole text through it a line at a time. It is safe to run
// concurrently with other calls against different context ids; the LLM
// client is shared but stateless per call.
func ingestFile(ctx context.Context, client llm.Client, contextID, sourceID, file string, windowSize, overlap int) error {
	text, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	extractor := extraction.NewLLMExtractor(client, log)

	index := entityindex.New()
	chainCfg := resolver.ChainConfig{
		Searchers: []entity.Searcher{
			entity.ByIDSearcher{},
			entity.ExactNameSearcher{},
			entity.NormalizedNameSearcher{},
		},
	}
	res := resolver.NewEscalatingResolver(index, chainCfg, log)

	reviserCfg, err := reviser.NewConfig(cfg.Reviser.TopK, cfg.Reviser.AutoMergeThreshold)
	if err != nil {
		return err
	}
	rv, err := reviser.New(repo, client, reviserCfg, log)
	if err != nil {
		return err
	}

	pl, err := pipeline.New(extractor, res, rv, entity.NewDataDictionary(), log)
	if err != nil {
		return err
	}

	analyzerCfg, err := analyzer.NewConfig(windowSize, overlap, 1)
	if err != nil {
		return err
	}
	lineFormatter := analyzer.Formatter[string](func(lines []string) string {
		out := ""
		for i, l := range lines {
			if i > 0 {
				out += "\n"
			}
			out += l
		}
		return out
	})
	az, err := analyzer.New(sourceID, contextID, analyzerCfg, lineFormatter, repo.History(), pl, log)
	if err != nil {
		return err
	}

	lines := splitLines(string(text))
	var written int
	for _, line := range lines {
		results, err := az.Append(ctx, line)
		if err != nil {
			return err
		}
		for _, r := range results {
			written += len(r.Propositions)
		}
	}

	fastPath, total := rv.Stats()
	if err := repo.SaveRevisionStats(ctx, contextID, fastPath, total); err != nil {
		log.Warn("dicectl.stats_save_failed", dicelog.Err(err))
	}

	log.Info("dicectl.ingest_complete",
		dicelog.F("context_id", contextID), dicelog.F("source_id", sourceID), dicelog.F("propositions_written", written))
	return nil
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
