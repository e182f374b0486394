// Package verify runs a claim through the cache, retrieval and web tiers and
// has the language model adjudicate the evidence.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/nocap/internal/gather"
	"github.com/ppiankov/nocap/internal/llm"
	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/rag"
	"github.com/ppiankov/nocap/internal/store"
)

const persistTimeout = 5 * time.Second

// Store is the persistence the orchestrator needs
type Store interface {
	FindCachedAnswer(ctx context.Context, question string, maxAge time.Duration) (*model.VerificationRecord, error)
	SaveVerificationRecord(ctx context.Context, rec *model.VerificationRecord) (string, error)
	FetchSessionHistory(ctx context.Context, sessionID string, limit int) ([]model.VerificationRecord, error)
	TouchSession(ctx context.Context, sessionID string, sessionCtx map[string]string) error
	LogDetection(ctx context.Context, entry *model.DetectionLog) (string, error)
}

// Retriever is the retrieval engine
type Retriever interface {
	RetrieveAll(ctx context.Context, query string, topK int) (model.RetrievalResult, error)
	RetrieveFrom(ctx context.Context, query string, topK int, sources []string) (model.RetrievalResult, error)
	AddContent(ctx context.Context, name model.IndexName, text, source string) (*rag.AddResult, error)
}

// Gatherer collects web evidence
type Gatherer interface {
	Collect(ctx context.Context, query string, max int) ([]gather.Document, error)
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Deps are the collaborators of an Orchestrator. Tokens may be nil.
type Deps struct {
	Store     Store
	Retriever Retriever
	Gatherer  Gatherer
	LLM       llm.Provider
	Tokens    *llm.TokenCounter
	Logger    *slog.Logger
}

// Options are the pipeline knobs
type Options struct {
	TopK            int
	Threshold       float64 // Strict distance gate
	WebResults      int
	HistoryTurns    int
	CacheMaxAge     time.Duration
	CacheConfidence int
	MaxClaimLength  int
	ContextTokens   int
	MaxTokens       int
}

// OptionsFromConfig builds Options from the pipeline configuration
func OptionsFromConfig(cfg model.PipelineConfig, maxTokens int) Options {
	return Options{
		TopK:            cfg.TopK,
		Threshold:       cfg.Threshold,
		WebResults:      cfg.WebResults,
		HistoryTurns:    cfg.HistoryTurns,
		CacheMaxAge:     cfg.CacheMaxAge,
		CacheConfidence: cfg.CacheConfidence,
		MaxClaimLength:  cfg.MaxClaimLength,
		ContextTokens:   cfg.ContextTokens,
		MaxTokens:       maxTokens,
	}
}

// Response is the outcome of one verification
type Response struct {
	Record       *model.VerificationRecord `json:"record"`
	Trace        Trace                     `json:"trace"`
	BestDistance *float64                  `json:"best_distance,omitempty"` // Nil when retrieval returned nothing
	Ingested     int                       `json:"ingested"`                // Chunks added during web escalation
}

// Orchestrator is the verification state machine
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator, filling unset options with the defaults
func New(deps Deps, opts Options) *Orchestrator {
	def := OptionsFromConfig(model.DefaultConfig().Pipeline, model.DefaultConfig().LLM.MaxTokens)
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.WebResults <= 0 {
		opts.WebResults = def.WebResults
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	}
	if opts.CacheConfidence <= 0 {
		opts.CacheConfidence = def.CacheConfidence
	}
	if opts.MaxClaimLength <= 0 {
		opts.MaxClaimLength = def.MaxClaimLength
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		now:    time.Now,
	}
}

var _ Store = (*store.Store)(nil)

// IsUsable reports whether a retrieval result passes the relevance gate:
// its best distance must be strictly below threshold
func IsUsable(result model.RetrievalResult, threshold float64) bool {
	best, ok := result.BestDistance()
	return ok && best < threshold
}

// evidence is what the retrieval tiers hand to adjudication
type evidence struct {
	tier    model.SourceType
	context string
	sources []string
}

// Verify runs one claim through the pipeline. Stage failures are absorbed:
// an unreachable model yields a degraded UNCERTAIN response, not an error.
// Errors are returned only for invalid input, unavailable storage and
// cancellation.
func (o *Orchestrator) Verify(ctx context.Context, q model.ClaimQuery) (*Response, error) {
	sessionID := q.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := o.logger.With(slog.String("session_id", sessionID))
	resp := &Response{}

	claim, err := Sanitize(q.Text, o.opts.MaxClaimLength)
	if err != nil {
		resp.Trace.enter(StateFailed)
		log.Info("claim rejected", slog.String("stage", StateFailed.String()), slog.String("error_kind", string(KindOf(err))))
		return resp, err
	}

	if err := o.deps.Store.TouchSession(ctx, sessionID, map[string]string{"last_action": "verify"}); err != nil {
		log.Warn("touch session failed", slog.String("error", err.Error()))
	}

	fail := func(stage State, kind, cause error, msg string) (*Response, error) {
		err := stageError(kind, cause, msg, stage, sessionID)
		resp.Trace.enter(StateFailed)
		log.Error(msg,
			slog.String("stage", stage.String()),
			slog.String("error_kind", string(KindOf(err))),
			slog.String("error", cause.Error()),
		)
		return resp, err
	}

	// CACHE_CHECK
	resp.Trace.enter(StateCacheCheck)
	cached, err := o.deps.Store.FindCachedAnswer(ctx, claim, o.opts.CacheMaxAge)
	switch {
	case err == nil:
		log.Info("cache hit", slog.String("stage", StateCacheCheck.String()), slog.String("record_id", cached.ID))
		rec := &model.VerificationRecord{
			SessionID:  sessionID,
			Question:   claim,
			Answer:     cached.Answer,
			Verdict:    cached.Verdict,
			Confidence: o.opts.CacheConfidence,
			SourceType: model.SourceCache,
			Sources:    cached.Sources,
		}
		return o.persist(ctx, log, resp, rec, nil)
	case errors.Is(err, store.ErrNotFound):
	case ctx.Err() != nil:
		return fail(StateCacheCheck, ctx.Err(), err, "cache check interrupted")
	default:
		// The cache is an optimisation; skip the tier
		log.Warn("cache check failed", slog.String("stage", StateCacheCheck.String()), slog.String("error", err.Error()))
	}

	// RAG_LOOKUP
	resp.Trace.enter(StateRAGLookup)
	var extraSources []string
	if q.SourceURL != "" && o.ingestSource(ctx, log, q.SourceURL) {
		extraSources = append(extraSources, q.SourceURL)
	}
	result, err := o.deps.Retriever.RetrieveAll(ctx, claim, o.opts.TopK)
	if err != nil {
		return fail(StateRAGLookup, o.storageKind(ctx, err), err, "retrieval failed")
	}
	if best, ok := result.BestDistance(); ok {
		resp.BestDistance = &best
	}

	var ev evidence
	if IsUsable(result, o.opts.Threshold) {
		log.Info("retrieval usable",
			slog.String("stage", StateRAGLookup.String()),
			slog.Float64("best_distance", *resp.BestDistance),
			slog.Int("chunks", len(result)),
		)
		ev = evidence{
			tier:    model.SourceRAG,
			context: buildContext(result, nil, o.deps.Tokens, o.opts.ContextTokens),
			sources: result.Sources(),
		}
	} else {
		// WEB_ESCALATION
		resp.Trace.enter(StateWebEscalation)
		ev, err = o.escalate(ctx, log, resp, claim)
		if err != nil {
			return fail(StateWebEscalation, o.storageKind(ctx, err), err, "web escalation failed")
		}
	}
	ev.sources = mergeSources(ev.sources, extraSources)

	if err := ctx.Err(); err != nil {
		return fail(StateAdjudication, err, err, "request abandoned")
	}

	// ADJUDICATION
	resp.Trace.enter(StateAdjudication)
	rec := o.adjudicate(ctx, log, sessionID, claim, ev)

	var detection *model.DetectionLog
	if rec.SourceType == model.SourceWeb {
		detection = &model.DetectionLog{
			SessionID:  sessionID,
			Question:   claim,
			Verdict:    rec.Verdict,
			Confidence: rec.Confidence,
			Evidence:   rec.Sources,
		}
	}
	return o.persist(ctx, log, resp, rec, detection)
}

// VerifyClaim adapts Verify to the batch processor
func (o *Orchestrator) VerifyClaim(ctx context.Context, q model.ClaimQuery) (*model.VerificationRecord, error) {
	resp, err := o.Verify(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// escalate gathers web evidence, indexes it and retrieves again. A failing
// or empty search still proceeds, with no evidence.
func (o *Orchestrator) escalate(ctx context.Context, log *slog.Logger, resp *Response, claim string) (evidence, error) {
	stage := slog.String("stage", StateWebEscalation.String())
	ev := evidence{tier: model.SourceWeb}

	docs, err := o.deps.Gatherer.Collect(ctx, claim, o.opts.WebResults)
	if err != nil {
		log.Warn("web search failed", stage,
			slog.String("error_kind", string(KindProvider)),
			slog.String("error", err.Error()),
		)
		docs = nil
	}

	var snippets []evidenceDoc
	var indexed []string
	for _, d := range docs {
		ev.sources = append(ev.sources, d.URL)
		if d.Snippet {
			snippets = append(snippets, evidenceDoc{source: d.URL, text: d.Text})
			continue
		}
		added, err := o.deps.Retriever.AddContent(ctx, model.IndexWeb, d.Text, d.URL)
		if err != nil {
			// Chunks already written stay; they are usable by later requests
			log.Warn("ingest failed", stage, slog.String("url", d.URL), slog.String("error", err.Error()))
			snippets = append(snippets, evidenceDoc{source: d.URL, text: d.Text})
			continue
		}
		resp.Ingested += added.Chunks
		if added.Status != rag.StatusEmpty {
			indexed = append(indexed, d.URL)
		}
	}

	log.Info("web evidence gathered", stage,
		slog.Int("documents", len(docs)),
		slog.Int("chunks_added", resp.Ingested),
	)

	if len(docs) == 0 {
		return ev, nil
	}

	// Only this request's documents count as web evidence, however near
	// older chunks of the web index sit to the claim
	var result model.RetrievalResult
	if len(indexed) > 0 {
		result, err = o.deps.Retriever.RetrieveFrom(ctx, claim, o.opts.TopK, indexed)
		if err != nil {
			return ev, err
		}
	}
	ev.context = buildContext(result, snippets, o.deps.Tokens, o.opts.ContextTokens)
	return ev, nil
}

// adjudicate asks the model for a verdict. Model failures produce a degraded
// record rather than an error.
func (o *Orchestrator) adjudicate(ctx context.Context, log *slog.Logger, sessionID, claim string, ev evidence) *model.VerificationRecord {
	stage := slog.String("stage", StateAdjudication.String())
	rec := &model.VerificationRecord{
		SessionID:  sessionID,
		Question:   claim,
		SourceType: ev.tier,
		Sources:    ev.sources,
	}

	var history []model.VerificationRecord
	if o.opts.HistoryTurns > 0 {
		h, err := o.deps.Store.FetchSessionHistory(ctx, sessionID, o.opts.HistoryTurns)
		if err != nil {
			log.Warn("session history unavailable", stage, slog.String("error", err.Error()))
		} else {
			history = h
		}
	}

	out, err := o.deps.LLM.Generate(ctx, llm.GenerateRequest{
		System:    systemPrompt,
		Prompt:    buildPrompt(claim, ev.context, history),
		MaxTokens: o.opts.MaxTokens,
	})
	if err != nil {
		kind := ErrProvider
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrStageTimeout
		}
		log.Warn("adjudication failed, answering degraded", stage,
			slog.String("provider", o.deps.LLM.Name()),
			slog.String("error_kind", string(KindOf(kind))),
			slog.String("error", err.Error()),
		)
		rec.Answer = degradedAnswer(err)
		rec.Verdict = model.VerdictUncertain
		rec.Confidence = 0
		rec.Degraded = true
		return rec
	}

	rec.Answer = out.Text
	rec.Verdict = ExtractVerdict(out.Text)
	if c, ok := ExtractConfidence(out.Text); ok {
		rec.Confidence = c
	} else {
		rec.Confidence = DefaultConfidence(ev.tier, len(ev.sources))
	}

	log.Info("claim adjudicated", stage,
		slog.String("verdict", string(rec.Verdict)),
		slog.Int("confidence", rec.Confidence),
		slog.String("source_type", string(rec.SourceType)),
		slog.Int("tokens", out.TokensUsed),
	)
	return rec
}

// persist writes the record and, for web-tier answers, the detection entry.
// The writes outlive the request deadline so a degraded answer produced by
// a timed out model call is still recorded.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, resp *Response, rec *model.VerificationRecord, detection *model.DetectionLog) (*Response, error) {
	stage := slog.String("stage", StatePersisted.String())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := o.deps.Store.SaveVerificationRecord(ctx, rec); err != nil {
		err = stageError(o.storageKind(ctx, err), err, "save verification record", resp.Trace.Last(), rec.SessionID)
		resp.Trace.enter(StateFailed)
		log.Error("save verification record failed", stage, slog.String("error_kind", string(KindOf(err))), slog.String("error", err.Error()))
		return resp, err
	}

	if detection != nil {
		if _, err := o.deps.Store.LogDetection(ctx, detection); err != nil {
			log.Warn("detection log failed", stage, slog.String("error", err.Error()))
		}
	}

	resp.Trace.enter(StatePersisted)
	resp.Record = rec
	log.Info("verification persisted", stage,
		slog.String("record_id", rec.ID),
		slog.String("source_type", string(rec.SourceType)),
		slog.Bool("degraded", rec.Degraded),
	)
	return resp, nil
}

// ingestSource adds the article the claim came from to the web index. It is
// best effort: any failure is logged and the pipeline carries on.
func (o *Orchestrator) ingestSource(ctx context.Context, log *slog.Logger, sourceURL string) bool {
	text, err := o.deps.Gatherer.Fetch(ctx, sourceURL)
	if err != nil {
		log.Warn("source fetch failed", slog.String("url", sourceURL), slog.String("error", err.Error()))
		return false
	}
	if _, err := o.deps.Retriever.AddContent(ctx, model.IndexWeb, text, sourceURL); err != nil {
		log.Warn("source ingest failed", slog.String("url", sourceURL), slog.String("error", err.Error()))
		return false
	}
	return true
}

// storageKind classifies a storage or index failure
func (o *Orchestrator) storageKind(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, rag.ErrIndexCorruption):
		return ErrIndexCorruption
	default:
		return ErrStorageUnavailable
	}
}

func degradedAnswer(err error) string {
	reason := "the language model is unavailable"
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		reason = "the language model rate limit was reached"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "the language model did not answer in time"
	}
	return "VERDICT: UNCERTAIN\n\nThis claim could not be verified right now because " + reason + ". Please try again later."
}

// mergeSources appends extra to sources, dropping duplicates
func mergeSources(sources, extra []string) []string {
	seen := make(map[string]bool, len(sources)+len(extra))
	out := make([]string, 0, len(sources)+len(extra))
	for _, list := range [][]string{sources, extra} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
