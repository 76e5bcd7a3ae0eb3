// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package processor implements C11: the orchestrator binding C1-C10
// into the six operations of spec §4.11 — observe, learn, predict,
// update_config, clear_stm, get_pattern — each serialized by the
// target session's own lock per §5. Store calls are wrapped in
// per-store circuit breakers (github.com/sony/gobreaker/v2, via
// internal/breaker's generic adapter) so a store outage fails fast
// instead of piling up blocked goroutines, grounded on the teacher's
// resilience-wrapped store calls in internal/eventprocessor.
package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sevakavakians/kato-sub008/internal/breaker"
	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/observation"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
	"github.com/sevakavakians/kato-sub008/internal/predict"
	"github.com/sevakavakians/kato-sub008/internal/similarity"
	"github.com/sevakavakians/kato-sub008/internal/store"
	"github.com/sevakavakians/kato-sub008/internal/symbol"
)

// predictWorkers bounds the per-candidate LCS fan-out within one
// predict call.
const predictWorkers = 8

// Config bundles C11's deployment-level knobs, independent of any
// single session's resolved pattern.SessionConfig.
type Config struct {
	// SessionTTL is the duration a session survives after creation;
	// observe and predict push its expiry forward by SessionTTL when
	// its config's AutoExtendSession is set.
	SessionTTL time.Duration

	// PredictTimeout bounds one predict call per §5: "predict has a
	// deployment-configured deadline; timeout discards partial
	// survivors and returns a timeout error." Zero means no deadline.
	PredictTimeout time.Duration

	// DefaultSession is the baseline SessionConfig new sessions start
	// from before any caller-supplied override is merged in.
	DefaultSession pattern.SessionConfig

	// MinHashParams is the deployment's fixed (H, B, R) triple.
	MinHashParams minhash.Params
}

// Processor is C11. One instance serves every session in a
// deployment; the per-session mutex on pattern.Session, not a
// processor-wide lock, is what serializes a given session's
// operations (§5: "a coarse per-session mutex... not a single global
// lock"). That mutex only serializes anything if every call for a
// given session ID operates on the SAME *pattern.Session value — live
// holds exactly one in-process instance per active session ID so a
// round trip through the durable store (which rehydrates a fresh,
// unlocked value on every Get) never hands out a second, uncoordinated
// copy of the same session.
type Processor struct {
	patterns  store.PatternStore
	metadata  store.MetadataStore
	sessions  store.SessionStore
	index     minhash.Index
	filters   *filter.Pipeline
	predictor *predict.Assembler
	observer  *observation.Pipeline
	repair    *RepairQueue

	cfg Config

	liveMu sync.Mutex
	live   map[string]*pattern.Session

	patternBreaker  *gobreaker.CircuitBreaker[any]
	metadataBreaker *gobreaker.CircuitBreaker[any]
	sessionBreaker  *gobreaker.CircuitBreaker[any]
	indexBreaker    *gobreaker.CircuitBreaker[any]

	logger zerolog.Logger
}

// New wires C1-C10's adapters into a C11 orchestrator.
func New(
	cfg Config,
	patterns store.PatternStore,
	metadata store.MetadataStore,
	sessions store.SessionStore,
	index minhash.Index,
	filters *filter.Pipeline,
	predictor *predict.Assembler,
	observer *observation.Pipeline,
	repair *RepairQueue,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		patterns:        patterns,
		metadata:        metadata,
		sessions:        sessions,
		index:           index,
		filters:         filters,
		predictor:       predictor,
		observer:        observer,
		repair:          repair,
		cfg:             cfg,
		live:            make(map[string]*pattern.Session),
		patternBreaker:  breaker.New[any](breaker.DefaultConfig("pattern-store")),
		metadataBreaker: breaker.New[any](breaker.DefaultConfig("metadata-store")),
		sessionBreaker:  breaker.New[any](breaker.DefaultConfig("session-store")),
		indexBreaker:    breaker.New[any](breaker.DefaultConfig("minhash-index")),
		logger:          logger,
	}
}

// call executes fn through cb, preserving fn's own result type via a
// boxed any round-trip. A single CircuitBreaker[any] per store lets
// one breaker protect every method on that store regardless of each
// method's distinct return type, rather than needing one breaker
// instantiation per call signature.
func call[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := breaker.Execute(cb, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// CreateSession starts a new session in kbID, merging override (if
// non-nil) over the deployment default config.
func (p *Processor) CreateSession(ctx context.Context, kbID string, override *pattern.SessionConfig) (*pattern.Session, error) {
	cfg := p.cfg.DefaultSession
	cfg.KBID = kbID
	if override != nil {
		cfg = cfg.Merge(*override)
	}

	now := time.Now()
	sess := &pattern.Session{
		ID:         uuid.NewString(),
		KBID:       kbID,
		Config:     cfg,
		Created:    now,
		LastAccess: now,
		ExpiresAt:  now.Add(p.cfg.SessionTTL),
	}

	if _, err := call(p.sessionBreaker, func() (struct{}, error) {
		return struct{}{}, p.sessions.Create(ctx, sess, p.cfg.SessionTTL)
	}); err != nil {
		return nil, err
	}

	p.liveMu.Lock()
	p.live[sess.ID] = sess
	p.liveMu.Unlock()

	return sess, nil
}

// getSession returns the single in-process *pattern.Session for
// sessionID, fetching and caching it from the durable store on first
// use. It locks nothing by itself; callers lock sess.Lock before
// mutating STM/config state. A cached entry found already past its
// ExpiresAt is dropped and re-fetched, so an expiry that happens while
// a session sits idle in the cache still surfaces the store's
// SessionExpired error instead of silently resurrecting stale state.
func (p *Processor) getSession(ctx context.Context, sessionID string) (*pattern.Session, error) {
	p.liveMu.Lock()
	if sess, ok := p.live[sessionID]; ok {
		if sess.ExpiresAt.IsZero() || time.Now().Before(sess.ExpiresAt) {
			p.liveMu.Unlock()
			return sess, nil
		}
		delete(p.live, sessionID)
	}
	p.liveMu.Unlock()

	sess, err := call(p.sessionBreaker, func() (*pattern.Session, error) {
		return p.sessions.Get(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	if existing, ok := p.live[sessionID]; ok {
		return existing, nil
	}
	p.live[sessionID] = sess
	return sess, nil
}

func (p *Processor) saveSession(ctx context.Context, sess *pattern.Session) error {
	_, err := call(p.sessionBreaker, func() (struct{}, error) {
		return struct{}{}, p.sessions.Save(ctx, sess, p.cfg.SessionTTL)
	})
	return err
}

// Observe runs C8 against sessionID's STM and, once the STM reaches
// the session's configured max_pattern_length, auto-invokes learn —
// the full §4.11 "observe" operation.
func (p *Processor) Observe(ctx context.Context, sessionID string, in observation.Input) error {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	if err := p.observer.Observe(ctx, sess, in); err != nil {
		return err
	}

	sess.LastAccess = time.Now()
	if sess.Config.AutoExtendSession {
		sess.ExpiresAt = sess.LastAccess.Add(p.cfg.SessionTTL)
	}

	if sess.Config.MaxPatternLength > 0 && len(sess.STM) >= sess.Config.MaxPatternLength {
		if _, err := p.learnLocked(ctx, sess); err != nil {
			return err
		}
	}

	return p.saveSession(ctx, sess)
}

// Learn snapshots sessionID's STM into a canonical pattern, per
// §4.11's "learn" operation, and returns the pattern's name.
func (p *Processor) Learn(ctx context.Context, sessionID string) (string, error) {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	name, err := p.learnLocked(ctx, sess)
	if err != nil {
		return "", err
	}
	if err := p.saveSession(ctx, sess); err != nil {
		return "", err
	}
	return name, nil
}

// learnLocked implements §4.11's write-ordering invariant: C4 insert
// first (the source of truth), then C5 increments, then C2 index
// update. sess.Lock must already be held by the caller.
func (p *Processor) learnLocked(ctx context.Context, sess *pattern.Session) (string, error) {
	if len(sess.STM) == 0 {
		return "", kerrors.New(kerrors.KindValidation, "cannot learn an empty STM")
	}

	canonical := sess.STM.Clone().Canonical()
	name, err := symbol.Name(canonical)
	if err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, "compute pattern identity", err)
	}

	tokens := sortedTokens(canonical.TokenSet())
	sig := minhash.Compute(tokens, p.cfg.MinHashParams)

	row := store.PatternRow{
		Name:       name,
		KBID:       sess.KBID,
		Data:       canonical,
		Length:     canonical.Length(),
		TokenSet:   tokens,
		MinHashSig: []uint64(sig),
	}

	type upsertOutcome struct {
		created bool
	}
	outcome, err := call(p.patternBreaker, func() (upsertOutcome, error) {
		_, created, err := p.patterns.UpsertOrIncrement(ctx, row)
		return upsertOutcome{created: created}, err
	})
	if err != nil {
		return "", err
	}

	p.applyLearnSideEffects(ctx, sess.KBID, name, tokens, sig, outcome.created)

	emotives := mergeEmotives(sess.EmotivesBuffer)
	if len(emotives) > 0 {
		if _, err := call(p.metadataBreaker, func() (struct{}, error) {
			return struct{}{}, p.metadata.AppendEmotives(ctx, sess.KBID, name, emotives)
		}); err != nil {
			p.logger.Error().Err(err).Str("kb_id", sess.KBID).Str("name", name).Msg("append emotives failed after C4 commit")
		}
	}

	for _, md := range sess.MetadataBuffer {
		if len(md) == 0 {
			continue
		}
		if _, err := call(p.metadataBreaker, func() (struct{}, error) {
			return struct{}{}, p.metadata.AppendMetadata(ctx, sess.KBID, name, md)
		}); err != nil {
			p.logger.Error().Err(err).Str("kb_id", sess.KBID).Str("name", name).Msg("append metadata failed after C4 commit")
		}
	}

	sess.Clear()
	return name, nil
}

// applyLearnSideEffects performs the C5 increments and, for a newly
// created pattern, the C2 index update. A failure here never fails
// the learn call itself (C4 already committed) — it is logged loudly
// and handed to the repair queue, per §4.11.
func (p *Processor) applyLearnSideEffects(ctx context.Context, kbID, name string, tokens []string, sig minhash.Signature, created bool) {
	if _, err := call(p.metadataBreaker, func() (struct{}, error) {
		return struct{}{}, p.metadata.IncrementSymbolFrequency(ctx, kbID, tokens)
	}); err != nil {
		p.logger.Error().Err(err).Str("kb_id", kbID).Str("name", name).Msg("symbol frequency increment failed after C4 commit, queuing repair")
		p.enqueueRepair(RepairJob{KBID: kbID, Name: name, Symbols: tokens, NeedFreq: true, MinHashSig: sig})
	}

	if !created {
		return
	}

	if _, err := call(p.metadataBreaker, func() (struct{}, error) {
		return struct{}{}, p.metadata.IncrementSymbolPMF(ctx, kbID, tokens)
	}); err != nil {
		p.logger.Error().Err(err).Str("kb_id", kbID).Str("name", name).Msg("symbol pmf increment failed after C4 commit, queuing repair")
		p.enqueueRepair(RepairJob{KBID: kbID, Name: name, Symbols: tokens, NeedPMF: true, MinHashSig: sig})
	}

	if p.index == nil {
		return
	}
	if _, err := call(p.indexBreaker, func() (struct{}, error) {
		return struct{}{}, p.index.Add(ctx, kbID, name, sig, p.cfg.MinHashParams)
	}); err != nil {
		p.logger.Error().Err(err).Str("kb_id", kbID).Str("name", name).Msg("minhash index update failed after C4 commit, queuing repair")
		p.enqueueRepair(RepairJob{KBID: kbID, Name: name, Symbols: tokens, NeedIndex: true, MinHashSig: sig})
	}
}

func (p *Processor) enqueueRepair(job RepairJob) {
	if p.repair == nil {
		p.logger.Error().Str("kb_id", job.KBID).Str("name", job.Name).Msg("no repair queue configured, side effect permanently lost")
		return
	}
	if err := p.repair.Publish(job); err != nil {
		p.logger.Error().Err(err).Str("kb_id", job.KBID).Str("name", job.Name).Msg("failed to enqueue repair job")
	}
}

// Predict runs C3->C9->C10 over sessionID's current STM, per §4.11's
// "predict" operation. An STM shorter than two events yields an empty
// result rather than an error: there's nothing to segment past/future
// around.
func (p *Processor) Predict(ctx context.Context, sessionID string) ([]predict.Prediction, error) {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock.Lock()
	stm := sess.STM.Clone()
	cfg := sess.Config
	sess.LastAccess = time.Now()
	if cfg.AutoExtendSession {
		sess.ExpiresAt = sess.LastAccess.Add(p.cfg.SessionTTL)
	}
	sess.Lock.Unlock()

	if err := p.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	if len(stm) < 2 {
		return nil, nil
	}

	predictCtx := ctx
	if p.cfg.PredictTimeout > 0 {
		var cancel context.CancelFunc
		predictCtx, cancel = context.WithTimeout(ctx, p.cfg.PredictTimeout)
		defer cancel()
	}

	flat := stm.Flatten()
	stmView := filter.STMView{
		KBID:        cfg.KBID,
		FlatSymbols: flat,
		TokenSet:    stm.TokenSet(),
		MinHashSig:  minhash.Compute(flat, p.cfg.MinHashParams),
	}

	survivors, _, err := p.filters.Run(predictCtx, p.patterns, stmView, cfg)
	if err != nil {
		if predictCtx.Err() != nil {
			return nil, kerrors.Wrap(kerrors.KindTimeout, "predict exceeded deployment deadline", predictCtx.Err())
		}
		return nil, err
	}

	mode := similarity.ModeToken
	if !cfg.UseTokenMatching {
		mode = similarity.ModeCharacter
	}

	// Per-candidate LCS (C9) is embarrassingly parallel — each survivor
	// is matched and assembled independently — so a bounded worker pool
	// fans the predict call out across them instead of walking survivors
	// one at a time, per §5/§9.
	slots := make([]*predict.Prediction, len(survivors))
	g, gctx := errgroup.WithContext(predictCtx)
	g.SetLimit(predictWorkers)

	for i, cand := range survivors {
		i, cand := i, cand
		g.Go(func() error {
			row, err := p.predictor.GetRow(gctx, p.patterns, cfg.KBID, cand.Name)
			if err != nil {
				return err
			}

			res := similarity.Match(stm, row.Data, mode)
			if res.Similarity < cfg.RecallThreshold {
				return nil
			}

			pred, err := p.predictor.Assemble(gctx, cfg.KBID, row, res)
			if err != nil {
				return err
			}
			slots[i] = &pred
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if predictCtx.Err() != nil {
			return nil, kerrors.Wrap(kerrors.KindTimeout, "predict exceeded deployment deadline", predictCtx.Err())
		}
		return nil, err
	}

	preds := make([]predict.Prediction, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			preds = append(preds, *s)
		}
	}

	return predict.Rank(preds, cfg.MaxPredictions), nil
}

// UpdateConfig merges override into sessionID's resolved config,
// per §4.11's "update_config" operation — no store write beyond the
// session record itself.
func (p *Processor) UpdateConfig(ctx context.Context, sessionID string, override pattern.SessionConfig) error {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.Lock.Lock()
	sess.Config = sess.Config.Merge(override)
	sess.Lock.Unlock()

	return p.saveSession(ctx, sess)
}

// ClearStm empties sessionID's STM and emotives buffer without
// learning, per §4.11's "clear_stm" operation.
func (p *Processor) ClearStm(ctx context.Context, sessionID string) error {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.Lock.Lock()
	sess.Clear()
	sess.Lock.Unlock()

	return p.saveSession(ctx, sess)
}

// GetPattern performs a read-only C4 lookup by (kbID, name), per
// §4.11's "get_pattern" operation.
func (p *Processor) GetPattern(ctx context.Context, kbID, name string) (store.PatternRow, error) {
	return call(p.patternBreaker, func() (store.PatternRow, error) {
		return p.patterns.GetOne(ctx, kbID, name)
	})
}

func sortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func mergeEmotives(buffer []map[string]float64) map[string]float64 {
	if len(buffer) == 0 {
		return nil
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, occ := range buffer {
		for k, v := range occ {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}
