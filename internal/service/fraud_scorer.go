package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

const (
	RiskBlockThreshold  = 70
	RiskReviewThreshold = 30

	largeAmountThreshold domain.Cents = 100000
	velocityWindow                    = 5 * time.Minute
	velocityLimit                     = 5

	FactorLargeAmount = "Large transaction amount"
	FactorVelocity    = "Rapid successive transactions"
	FactorOffHours    = "Transaction outside normal hours"
)

// VelocityCounter counts an actor's transactions since a point in time.
type VelocityCounter interface {
	CountRecent(ctx context.Context, actorID string, since time.Time) (int64, error)
}

type VelocityCounterFunc func(ctx context.Context, actorID string, since time.Time) (int64, error)

func (f VelocityCounterFunc) CountRecent(ctx context.Context, actorID string, since time.Time) (int64, error) {
	return f(ctx, actorID, since)
}

type FraudInput struct {
	ActorID       string
	Amount        domain.Cents
	PaymentMethod domain.PaymentMethod
	At            time.Time
}

// FraudScorer is advisory: a signal that cannot be collected is skipped and
// reported, never turned into a rejection.
type FraudScorer struct {
	counter  VelocityCounter
	location *time.Location
	recorder *audit.Recorder
	logger   *slog.Logger
}

func NewFraudScorer(counter VelocityCounter, location *time.Location, recorder *audit.Recorder, logger *slog.Logger) *FraudScorer {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FraudScorer{counter: counter, location: location, recorder: recorder, logger: logger}
}

func (f *FraudScorer) Score(ctx context.Context, in FraudInput) domain.RiskAssessment {
	risk := domain.RiskAssessment{Factors: []string{}}

	if in.Amount > largeAmountThreshold {
		risk.Score += 30
		risk.Factors = append(risk.Factors, FactorLargeAmount)
	}

	if f.counter != nil {
		n, err := f.counter.CountRecent(ctx, in.ActorID, in.At.Add(-velocityWindow))
		switch {
		case err != nil:
			f.logger.WarnContext(ctx, "fraud velocity lookup failed", "actor_id", in.ActorID, "error", err)
			f.recorder.Record(ctx, audit.Event{
				Type:    audit.EventFraudScoringFailed,
				ActorID: in.ActorID,
				Reason:  "velocity lookup failed",
			})
		case n >= velocityLimit:
			risk.Score += 40
			risk.Factors = append(risk.Factors, FactorVelocity)
		}
	}

	if hour := in.At.In(f.location).Hour(); hour < 8 || hour > 22 {
		risk.Score += 20
		risk.Factors = append(risk.Factors, FactorOffHours)
	}
	return risk
}

// RequiresApproval reports whether a score blocks the transaction.
func RequiresApproval(score int) bool { return score >= RiskBlockThreshold }
