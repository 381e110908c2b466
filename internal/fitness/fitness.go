// Package fitness implements the Fitness Engine (C6): the weighted
// scoring function over usage telemetry that drives ranking, eligibility,
// trust escalation, and automatic delisting.
package fitness

import (
	"context"
	"math"
	"time"

	"github.com/agentevolution/agentevolution/internal/config"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/registry"
	"github.com/agentevolution/agentevolution/internal/telemetry"
)

// indexRemover is the narrow slice of embedindex.Index that delisting
// needs. Declared locally so fitness does not import embedindex's full
// surface, matching the discovery package's own interface-narrowing
// convention.
type indexRemover interface {
	Remove(toolID string)
}

// Engine recomputes fitness for a tool after every usage report.
type Engine struct {
	store *registry.Store
	cfg   config.FitnessConfig
	log   *logging.Logger
	now   func() time.Time
	index indexRemover
}

// New builds a Fitness Engine against the registry it scores. idx may be
// nil, in which case delisting skips index eviction (the Discovery layer
// still filters delisted tools out of results regardless).
func New(store *registry.Store, cfg config.FitnessConfig, log *logging.Logger, idx indexRemover) *Engine {
	return &Engine{store: store, cfg: cfg, log: log, now: time.Now, index: idx}
}

// Recompute reads a tool's current telemetry, computes its fitness score,
// persists it, and applies the delisting and trust-escalation policies.
// It is synchronous and must be called after every record_usage.
func (e *Engine) Recompute(ctx context.Context, toolID string) (float64, error) {
	tool, err := e.store.Get(ctx, toolID)
	if err != nil {
		return 0, err
	}
	if tool.Delisted {
		return tool.FitnessScore, nil
	}

	successRate := 0.0
	if tool.TotalUses > 0 {
		successRate = float64(tool.SuccessfulUses) / float64(tool.TotalUses)
	}

	tokenEfficiency, err := e.tokenEfficiency(ctx, tool)
	if err != nil {
		return 0, err
	}

	speed := clamp(1-tool.AvgExecutionTimeMS/e.cfg.SpeedBudgetMS, 0, 1)
	adoption := math.Min(1, math.Log2(float64(tool.UniqueAgents)+1)/math.Log2(e.cfg.AdoptionCap+1))

	ageDays := e.now().UTC().Sub(tool.CreatedAt).Hours() / 24
	halfLifeDays := e.cfg.HalfLife.Hours() / 24
	freshness := math.Exp(-ageDays / halfLifeDays)

	score := e.cfg.WeightSuccessRate*successRate +
		e.cfg.WeightTokenEfficiency*tokenEfficiency +
		e.cfg.WeightSpeed*speed +
		e.cfg.WeightAdoption*adoption +
		e.cfg.WeightFreshness*freshness

	belowFloor := score < e.cfg.DelistFitnessFloor
	if err := e.store.UpdateFitness(ctx, toolID, score, belowFloor); err != nil {
		return 0, err
	}

	if err := e.applyDelistingPolicy(ctx, toolID, tool.TotalUses, successRate); err != nil {
		return 0, err
	}
	if err := e.applyTrustEscalation(ctx, toolID, tool.TrustLevel, tool.TotalUses, successRate, tool.UniqueAgents); err != nil {
		return 0, err
	}

	telemetry.FitnessRecomputations.Inc()
	e.log.Info(logging.CategoryFitness, "recompute", "fitness recomputed", map[string]any{
		"tool_id": toolID,
		"fitness": score,
	})

	return score, nil
}

// applyDelistingPolicy delists a tool once it has accumulated at least
// MinObservations usage reports and either its success rate has fallen
// below the floor or its fitness has stayed below the floor for
// MinObservations consecutive reports.
func (e *Engine) applyDelistingPolicy(ctx context.Context, toolID string, totalUses int, successRate float64) error {
	if totalUses < e.cfg.MinObservations {
		return nil
	}
	if successRate < e.cfg.DelistSuccessFloor {
		return e.delist(ctx, toolID, "success_rate below floor")
	}

	refreshed, err := e.store.Get(ctx, toolID)
	if err != nil {
		return err
	}
	if refreshed.ConsecutiveLowFitness >= e.cfg.MinObservations {
		return e.delist(ctx, toolID, "fitness sustained below floor")
	}
	return nil
}

func (e *Engine) delist(ctx context.Context, toolID, reason string) error {
	if err := e.store.MarkDelisted(ctx, toolID, reason); err != nil {
		return err
	}
	if e.index != nil {
		e.index.Remove(toolID)
	}
	telemetry.Delistings.WithLabelValues(reason).Inc()
	e.log.Warn(logging.CategoryFitness, "delist", "tool delisted", map[string]any{
		"tool_id": toolID,
		"reason":  reason,
	})
	return nil
}

// applyTrustEscalation advances Verified tools to BattleTested once they
// clear the usage, success-rate, and unique-agent thresholds. Tools at any
// other trust level are left as they are, so escalation is one-way and is
// counted and logged once per tool.
func (e *Engine) applyTrustEscalation(ctx context.Context, toolID string, trust registry.TrustLevel, totalUses int, successRate float64, uniqueAgents int) error {
	if trust != registry.TrustVerified {
		return nil
	}
	if totalUses < e.cfg.BattleTestedUses || successRate < e.cfg.BattleTestedSuccess || uniqueAgents < e.cfg.BattleTestedAgents {
		return nil
	}
	if err := e.store.EscalateTrust(ctx, toolID); err != nil {
		return err
	}
	telemetry.TrustEscalations.Inc()
	e.log.Info(logging.CategoryFitness, "trust_escalation", "tool escalated to battle_tested", map[string]any{"tool_id": toolID})
	return nil
}

// tokenEfficiency computes the token_efficiency term. When no usage report
// has ever carried a tokens_used value, the term defaults to the neutral
// 0.5, per contract. Once at least one report has, any other report that
// omitted tokens_used is filled in with a tiktoken-based estimate over the
// tool's own source rather than being dropped from the mean.
func (e *Engine) tokenEfficiency(ctx context.Context, tool *registry.Tool) (float64, error) {
	reportedSum, reportedCount, missingCount, err := e.store.TokenUsageStats(ctx, tool.ID)
	if err != nil {
		return 0, err
	}
	if reportedCount == 0 {
		// No report has ever carried real token data; the term stays neutral.
		return 0.5, nil
	}

	estimatedMissingSum := float64(missingCount) * float64(countTokens(tool.Code))
	tokensPerUse := (float64(reportedSum) + estimatedMissingSum) / float64(reportedCount+missingCount)
	return clamp(1-tokensPerUse/e.cfg.TokensBudget, 0, 1), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
