package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

// RetrieverConfig tunes hybrid ranking. The similarity/recency weights are
// deliberately configuration-exposed rather than hard-coded.
type RetrieverConfig struct {
	// TopK is the default result cap when the caller passes limit <= 0.
	TopK int
	// PerSourceLimit caps each typed fetch before merging.
	PerSourceLimit int
	// MinScore drops candidates whose embedding similarity is below it.
	MinScore float64
	// SimilarityWeight and RecencyWeight combine into the final score.
	SimilarityWeight float64
	RecencyWeight    float64
	// YearsBack bounds how old a record may be; 0 disables the window.
	YearsBack int
	// RecencyHalfLifeDays controls how fast the recency weight decays:
	// a record this many days old weighs 0.5.
	RecencyHalfLifeDays float64
	// KeywordBonus caps the additive keyword-overlap boost. It is kept
	// below any meaningful similarity-weight difference so the boost can
	// reorder near-ties but never outrank genuinely closer records.
	KeywordBonus float64
	// Sources is the set of typed fetches to issue; nil means all.
	Sources []models.SourceType
}

// DefaultRetrieverConfig mirrors the retrieval defaults of the record
// store's ingestion side.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:                15,
		PerSourceLimit:      10,
		MinScore:            0.3,
		SimilarityWeight:    0.8,
		RecencyWeight:       0.2,
		YearsBack:           5,
		RecencyHalfLifeDays: 365,
		KeywordBonus:        0.05,
	}
}

var defaultSources = []models.SourceType{
	models.SourceAppointment,
	models.SourceDiagnosis,
	models.SourcePrescription,
	models.SourceRecordSummary,
	models.SourceDoctor,
}

// Retriever performs hybrid retrieval: per-source vector fetches hard
// scoped to one patient, scored by similarity, recency and keyword
// overlap, then merged, deduplicated and ranked.
type Retriever struct {
	store    repositories.RecordStore
	keywords *KeywordExtractor
	config   RetrieverConfig
	logger   *log.Logger
	now      func() time.Time
}

// NewRetriever creates a retriever over the given record store.
func NewRetriever(store repositories.RecordStore, config RetrieverConfig, logger *log.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultRetrieverConfig().TopK
	}
	if config.PerSourceLimit <= 0 {
		config.PerSourceLimit = DefaultRetrieverConfig().PerSourceLimit
	}
	if config.RecencyHalfLifeDays <= 0 {
		config.RecencyHalfLifeDays = DefaultRetrieverConfig().RecencyHalfLifeDays
	}
	return &Retriever{
		store:    store,
		keywords: NewKeywordExtractor(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Retrieve returns up to limit ranked candidates for the patient. An empty
// result is a normal outcome, not an error. A single source failing its
// query degrades the result (logged); only all sources failing is an error.
func (r *Retriever) Retrieve(ctx context.Context, patientID int64, queryEmbedding []float32, question string, limit int) ([]*models.RetrievalCandidate, error) {
	if limit <= 0 {
		limit = r.config.TopK
	}

	sources := r.config.Sources
	if len(sources) == 0 {
		sources = defaultSources
	}

	opts := repositories.VectorSearchOptions{
		Limit:     r.config.PerSourceLimit,
		YearsBack: r.config.YearsBack,
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates []*models.RetrievalCandidate
		errs       []error
	)

	for _, source := range sources {
		fetch := r.fetchFor(source)
		if fetch == nil {
			continue
		}
		wg.Add(1)
		go func(source models.SourceType) {
			defer wg.Done()
			results, err := fetch(ctx, patientID, queryEmbedding, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Printf("Source %s query failed: %v", source, err)
				errs = append(errs, fmt.Errorf("source %s: %w", source, err))
				return
			}
			candidates = append(candidates, results...)
		}(source)
	}
	wg.Wait()

	if len(errs) == len(sources) && len(sources) > 0 {
		return nil, fmt.Errorf("all record sources failed: %w", errs[0])
	}

	keywords := r.keywords.Extract(question)
	now := r.now()

	scored := make([]*models.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		// Cross-patient rows must never leak, whatever the store returned.
		if c.PatientID != patientID {
			r.logger.Printf("SECURITY: dropped %s/%d belonging to patient %d (requested %d)",
				c.SourceType, c.SourceID, c.PatientID, patientID)
			continue
		}
		if c.Similarity < r.config.MinScore {
			continue
		}
		c.RecencyWeight = r.recencyWeight(c.OccurredAt, now)
		c.CombinedScore = r.config.SimilarityWeight*c.Similarity +
			r.config.RecencyWeight*c.RecencyWeight +
			r.keywordBoost(c.Excerpt, keywords)
		scored = append(scored, c)
	}

	deduped := dedupeCandidates(scored)
	sortCandidates(deduped)

	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

type sourceFetch func(context.Context, int64, []float32, repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error)

func (r *Retriever) fetchFor(source models.SourceType) sourceFetch {
	switch source {
	case models.SourceAppointment:
		return r.store.SearchAppointments
	case models.SourceDiagnosis:
		return r.store.SearchDiagnoses
	case models.SourcePrescription:
		return r.store.SearchPrescriptions
	case models.SourceRecordSummary:
		return r.store.SearchRecordSummaries
	case models.SourceDoctor:
		return r.store.SearchDoctors
	default:
		// Specialty metadata rides on doctor candidates; there is no
		// standalone specialty fetch.
		return nil
	}
}

// recencyWeight decays from 1.0 by half every RecencyHalfLifeDays.
// Sources without a timestamp get the neutral weight 1.0.
func (r *Retriever) recencyWeight(occurredAt *time.Time, now time.Time) float64 {
	if occurredAt == nil {
		return 1.0
	}
	ageDays := now.Sub(*occurredAt).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, ageDays/r.config.RecencyHalfLifeDays)
}

// keywordBoost is KeywordBonus scaled by the fraction of question keywords
// present in the excerpt.
func (r *Retriever) keywordBoost(excerpt string, keywords []string) float64 {
	if len(keywords) == 0 || r.config.KeywordBonus <= 0 {
		return 0
	}
	lower := strings.ToLower(excerpt)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return r.config.KeywordBonus * float64(matched) / float64(len(keywords))
}

// dedupeCandidates keeps the highest-scoring occurrence per
// (source_type, source_id).
func dedupeCandidates(candidates []*models.RetrievalCandidate) []*models.RetrievalCandidate {
	type key struct {
		sourceType models.SourceType
		sourceID   int64
	}
	best := make(map[key]*models.RetrievalCandidate, len(candidates))
	order := make([]key, 0, len(candidates))
	for _, c := range candidates {
		k := key{c.SourceType, c.SourceID}
		existing, ok := best[k]
		if !ok {
			best[k] = c
			order = append(order, k)
			continue
		}
		if c.CombinedScore > existing.CombinedScore {
			best[k] = c
		}
	}

	deduped := make([]*models.RetrievalCandidate, 0, len(best))
	for _, k := range order {
		deduped = append(deduped, best[k])
	}
	return deduped
}

// sortCandidates orders by combined score descending, then most recent
// occurred_at (nil last), then source enum order, then source id, so the
// final ranking is fully deterministic.
func sortCandidates(candidates []*models.RetrievalCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		switch {
		case a.OccurredAt == nil && b.OccurredAt != nil:
			return false
		case a.OccurredAt != nil && b.OccurredAt == nil:
			return true
		case a.OccurredAt != nil && b.OccurredAt != nil && !a.OccurredAt.Equal(*b.OccurredAt):
			return a.OccurredAt.After(*b.OccurredAt)
		}
		if a.SourceType != b.SourceType {
			return a.SourceType.Order() < b.SourceType.Order()
		}
		return a.SourceID < b.SourceID
	})
}
