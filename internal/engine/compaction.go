package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pathwise/engram/internal/config"
	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// Compaction score boundaries. After re-scoring, items below deleteBelow are
// removed outright and items below compressBelow are compressed out of the
// retrieval set.
const (
	deleteBelow   = 0.2
	compressBelow = 0.4

	// rescoreBatchSize caps items per re-scoring LLM call.
	rescoreBatchSize = 10

	// maxConcurrentBatches bounds the re-scoring fan-out within one owner.
	maxConcurrentBatches = 10

	// decayFactor is the multiplicative score decay applied when the LLM is
	// unavailable. Decayed items are never deleted: repeated sweeps push
	// stale items toward compression, and a later LLM-backed sweep makes the
	// irreversible call.
	decayFactor = 0.9
)

// CompactionReport summarizes one sweep.
type CompactionReport struct {
	OwnersProcessed        int `json:"owners_processed"`
	ItemsExamined          int `json:"items_examined"`
	Rescored               int `json:"rescored"`
	Decayed                int `json:"decayed"`
	Merged                 int `json:"merged"`
	ContradictionsResolved int `json:"contradictions_resolved"`
	Deleted                int `json:"deleted"`
	Compressed             int `json:"compressed"`
	Kept                   int `json:"kept"`
	Errors                 int `json:"errors"`
}

func (r *CompactionReport) add(other CompactionReport) {
	r.OwnersProcessed += other.OwnersProcessed
	r.ItemsExamined += other.ItemsExamined
	r.Rescored += other.Rescored
	r.Decayed += other.Decayed
	r.Merged += other.Merged
	r.ContradictionsResolved += other.ContradictionsResolved
	r.Deleted += other.Deleted
	r.Compressed += other.Compressed
	r.Kept += other.Kept
	r.Errors += other.Errors
}

// Compactor runs the background sweep that re-scores aging low-importance
// items and deletes or compresses the ones that no longer earn their place.
// Owners are processed one at a time, least-recently-updated first so every
// owner eventually gets a turn; within an owner the re-scoring batches fan
// out, and all LLM calls share one rate limiter.
type Compactor struct {
	store        storage.Store
	text         llm.TextGenerator
	breaker      *llm.CircuitBreaker
	consolidator *Consolidator
	limiter      *rate.Limiter
	cfg          config.CompactConfig
}

// NewCompactor creates a compactor with the given tuning. The embedder is
// passed through to the consolidation pass for re-embedding merged content.
func NewCompactor(store storage.Store, text llm.TextGenerator, breaker *llm.CircuitBreaker, embedder *Embedder, cfg config.CompactConfig) *Compactor {
	rps := cfg.LLMRequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	return &Compactor{
		store:        store,
		text:         text,
		breaker:      breaker,
		consolidator: NewConsolidator(store, text, breaker, embedder, limiter),
		limiter:      limiter,
		cfg:          cfg,
	}
}

// Run executes one full sweep and returns its report. Per-owner failures
// are counted, logged, and do not abort the sweep.
func (c *Compactor) Run(ctx context.Context) (*CompactionReport, error) {
	owners, err := c.store.ListOwners(ctx, c.cfg.MaxOwnersPerRun)
	if err != nil {
		return nil, fmt.Errorf("engine: list owners for compaction: %w", err)
	}

	var report CompactionReport
	for _, owner := range owners {
		report.add(c.compactOwner(ctx, owner))
	}

	log.Printf("engine: compaction sweep done: owners=%d examined=%d rescored=%d decayed=%d merged=%d contradictions=%d deleted=%d compressed=%d errors=%d",
		report.OwnersProcessed, report.ItemsExamined, report.Rescored, report.Decayed,
		report.Merged, report.ContradictionsResolved, report.Deleted, report.Compressed, report.Errors)
	return &report, nil
}

// compactOwner consolidates the owner's items first (duplicates merged,
// contradictions resolved), then re-scores the aging low-importance
// remainder.
func (c *Compactor) compactOwner(ctx context.Context, ownerID string) CompactionReport {
	report := CompactionReport{OwnersProcessed: 1}

	if conResult, err := c.consolidator.ConsolidateOwner(ctx, ownerID, ""); err != nil {
		log.Printf("engine: consolidation for owner %s: %v", ownerID, err)
		report.Errors++
	} else {
		report.Merged += conResult.Merged
		report.ContradictionsResolved += conResult.ContradictionsResolved
		report.Deleted += conResult.Deleted
		report.Compressed += conResult.Compressed
		report.Errors += conResult.Errors
	}

	candidates, err := c.store.ListCompactionCandidates(ctx, ownerID, storage.CandidateFilter{
		MinAgeDays:    c.cfg.MinAgeDays,
		MaxImportance: c.cfg.ScoreFloor,
		Limit:         c.cfg.MaxCandidates,
	})
	if err != nil {
		log.Printf("engine: compaction candidates for owner %s: %v", ownerID, err)
		report.Errors++
		return report
	}
	report.ItemsExamined = len(candidates)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, maxConcurrentBatches)
	for start := 0; start < len(candidates); start += rescoreBatchSize {
		end := start + rescoreBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			var batchReport CompactionReport
			c.processBatch(ctx, ownerID, batch, &batchReport)
			mu.Lock()
			report.add(batchReport)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}

func (c *Compactor) processBatch(ctx context.Context, ownerID string, batch []*types.MemoryItem, report *CompactionReport) {
	scores, rescoreErr := c.rescoreBatch(ctx, batch)

	for _, item := range batch {
		newScore, scored := scores[item.ID]
		if rescoreErr != nil || !scored {
			// Fallback: decay only. Deletion waits for a real verdict.
			decayed := types.Clamp01(item.ImportanceScore * decayFactor)
			if err := c.store.SetImportance(ctx, ownerID, item.ID, decayed); err != nil {
				log.Printf("engine: decay %s: %v", item.ID, err)
				report.Errors++
				continue
			}
			report.Decayed++
			continue
		}

		report.Rescored++
		switch {
		case newScore < deleteBelow:
			if err := c.store.Delete(ctx, ownerID, item.ID); err != nil {
				log.Printf("engine: delete %s: %v", item.ID, err)
				report.Errors++
				continue
			}
			report.Deleted++

		case newScore < compressBelow:
			if err := c.store.SetStatus(ctx, ownerID, item.ID, types.StatusCompressed, ""); err != nil {
				log.Printf("engine: compress %s: %v", item.ID, err)
				report.Errors++
				continue
			}
			if err := c.store.SetImportance(ctx, ownerID, item.ID, newScore); err != nil {
				log.Printf("engine: set importance %s: %v", item.ID, err)
				report.Errors++
			}
			report.Compressed++

		default:
			if err := c.store.SetImportance(ctx, ownerID, item.ID, newScore); err != nil {
				log.Printf("engine: set importance %s: %v", item.ID, err)
				report.Errors++
				continue
			}
			report.Kept++
		}
	}
}

// rescoreBatch asks the LLM for fresh importance scores. Ids missing from
// the response simply stay unscored and take the decay path.
func (c *Compactor) rescoreBatch(ctx context.Context, batch []*types.MemoryItem) (map[string]float64, error) {
	if c.text == nil {
		return nil, fmt.Errorf("no text generation provider configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	items := make([]llm.RescoreItem, len(batch))
	for i, item := range batch {
		items[i] = llm.RescoreItem{ID: item.ID, Content: item.Content}
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.text.Complete(ctx, llm.RescorePrompt(items))
	})
	if err != nil {
		log.Printf("engine: rescore batch failed, decaying instead: %v", err)
		return nil, err
	}

	scores, parseErr := llm.ParseRescoreResponse(result.(string))
	if parseErr != nil {
		log.Printf("engine: rescore response unusable, decaying instead: %v", parseErr)
		return nil, parseErr
	}
	return scores, nil
}
