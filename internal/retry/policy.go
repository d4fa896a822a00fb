package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBudget        = 5
	DefaultConvertBudget = 2
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = 5 * time.Second
	DefaultMultiplier    = 1.5
	DefaultJitter        = 0.5
)

// Policy holds the attempt budgets and backoff shape shared by all stages.
type Policy struct {
	Budget        int
	ConvertBudget int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		Budget:        DefaultBudget,
		ConvertBudget: DefaultConvertBudget,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		Multiplier:    DefaultMultiplier,
		Jitter:        DefaultJitter,
	}
}

// Normalize fills zero or out-of-range fields with defaults.
func (p Policy) Normalize() Policy {
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	if p.ConvertBudget <= 0 {
		p.ConvertBudget = DefaultConvertBudget
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = DefaultJitter
	}
	return p
}

// AttemptBudget is the ceiling for download and resolution attempts.
func (p Policy) AttemptBudget() int {
	return p.Normalize().Budget
}

func (p Policy) ConversionBudget() int {
	return p.Normalize().ConvertBudget
}

// NextDelay returns the pause before the attempt following attempt (1-based).
// The nominal delay grows by Multiplier per attempt up to MaxDelay; jitter
// draws the result from [d*(1-Jitter), d].
func (p Policy) NextDelay(attempt int) time.Duration {
	p = p.Normalize()
	if attempt < 1 {
		attempt = 1
	}
	nominal := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if nominal > float64(p.MaxDelay) || math.IsInf(nominal, 0) {
		nominal = float64(p.MaxDelay)
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	scale := 1 - p.Jitter*r()
	return time.Duration(nominal * scale)
}

// Retryable reports whether another attempt may follow attempt for err.
func (p Policy) Retryable(err error, attempt, budget int) bool {
	return Classify(err) == Transient && attempt < budget
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, returns a non-transient error, the budget is
// spent, or sleep is interrupted. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, budget int, sleep SleepFunc, fn func(attempt int) error) (int, error) {
	if budget <= 0 {
		budget = p.AttemptBudget()
	}
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.Retryable(err, attempt, budget) {
			return attempt, err
		}
		if serr := sleep(ctx, p.NextDelay(attempt)); serr != nil {
			return attempt, err
		}
	}
}
