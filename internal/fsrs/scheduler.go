package fsrs

import (
	"math"
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

// LearningState is one of the four FSRS state-machine states.
type LearningState string

const (
	StateNew        LearningState = "new"
	StateLearning   LearningState = "learning"
	StateReview     LearningState = "review"
	StateRelearning LearningState = "relearning"
)

// DefaultLearningSteps is the rep count required while in Learning before a
// Good/Easy rating promotes the node to Review.
const DefaultLearningSteps = 2

// FSRSState is the scheduling state persisted on a MemoryNode.
type FSRSState struct {
	Stability     float64
	Difficulty    float64
	Reps          int
	Lapses        int
	LearningState LearningState
	LastReview    time.Time
	NextReview    time.Time
	ScheduledDays int
}

// ReviewResult is the outcome of applying one rating to a state.
type ReviewResult struct {
	State     FSRSState
	Retrievability float64
}

// Scheduler evaluates the FSRS-6 state machine against a fixed weight
// vector and retention target.
type Scheduler struct {
	Params     Parameters
	LearningSteps int
}

// NewScheduler builds a Scheduler from params, defaulting LearningSteps to
// DefaultLearningSteps.
func NewScheduler(params Parameters) *Scheduler {
	return &Scheduler{Params: params, LearningSteps: DefaultLearningSteps}
}

// Review applies rating g to state as of now, returning the next state. now
// must not be before state.LastReview for a non-new state.
func (sch *Scheduler) Review(state FSRSState, g Rating, now time.Time) (*ReviewResult, error) {
	if !g.Valid() {
		return nil, engerr.Invalid("rating %d is outside {1,2,3,4}", int(g))
	}
	w := sch.Params.W

	if state.LearningState == "" {
		state.LearningState = StateNew
	}

	sameDay := !state.LastReview.IsZero() && isSameCalendarDay(state.LastReview, now)

	var next FSRSState
	next.Reps = state.Reps + 1
	next.LastReview = now

	switch state.LearningState {
	case StateNew:
		next.Stability = InitialStability(g, w)
		next.Difficulty = InitialDifficulty(g, w)
		next.Lapses = state.Lapses
		next.LearningState = StateLearning

	default:
		elapsed := daysBetween(state.LastReview, now)
		r := Retrievability(elapsed, state.Stability, w)
		next.Difficulty = NextDifficulty(state.Difficulty, g, w)

		switch {
		case sameDay:
			next.Stability = SameDayStability(state.Stability, w)
			next.LearningState = state.LearningState
			next.Lapses = state.Lapses
		case g == RatingAgain:
			next.Stability = NextForgetStability(state.Difficulty, state.Stability, r, w)
			next.LearningState = StateRelearning
			next.Lapses = state.Lapses + 1
		default:
			next.Stability = NextRecallStability(state.Difficulty, state.Stability, r, g, w)
			next.Lapses = state.Lapses

			switch state.LearningState {
			case StateLearning, StateRelearning:
				if (g == RatingGood || g == RatingEasy) && next.Reps >= sch.learningSteps() {
					next.LearningState = StateReview
				} else {
					next.LearningState = state.LearningState
				}
			case StateReview:
				next.LearningState = StateReview
			default:
				next.LearningState = StateReview
			}
		}
	}

	interval := NextInterval(sch.Params.RequestRetention, next.Stability, w)
	interval = FuzzInterval(interval, fuzzSeed(now))
	next.ScheduledDays = int(math.Round(interval))
	next.NextReview = now.Add(time.Duration(next.ScheduledDays) * 24 * time.Hour)

	r := Retrievability(0, next.Stability, w)
	return &ReviewResult{State: next, Retrievability: r}, nil
}

// PreviewResult is one row of a what-if preview: the state that would
// result from applying each of the four possible ratings right now.
type PreviewResult struct {
	Rating Rating
	Result ReviewResult
}

// Preview returns, for every possible rating, the state that would result
// from reviewing state right now, without mutating anything. Used by
// callers that want to show the user the consequence of each rating before
// they choose one.
func (sch *Scheduler) Preview(state FSRSState, now time.Time) ([]PreviewResult, error) {
	ratings := []Rating{RatingAgain, RatingHard, RatingGood, RatingEasy}
	out := make([]PreviewResult, 0, len(ratings))
	for _, g := range ratings {
		res, err := sch.Review(state, g, now)
		if err != nil {
			return nil, err
		}
		out = append(out, PreviewResult{Rating: g, Result: *res})
	}
	return out, nil
}

// CurrentRetrievability returns R(t,S) for state evaluated at now, the
// value cached on a node as retention_strength.
func (sch *Scheduler) CurrentRetrievability(state FSRSState, now time.Time) float64 {
	if state.LastReview.IsZero() {
		return 0
	}
	t := daysBetween(state.LastReview, now)
	return Retrievability(t, state.Stability, sch.Params.W)
}

func (sch *Scheduler) learningSteps() int {
	if sch.LearningSteps <= 0 {
		return DefaultLearningSteps
	}
	return sch.LearningSteps
}

// RetrievabilityNow evaluates R over the elapsed time between lastAccessed
// and now for a node with stability s, the value cached as
// retention_strength by writes that touch a node outside a review.
func (p Parameters) RetrievabilityNow(s float64, lastAccessed, now time.Time) float64 {
	return Retrievability(daysBetween(lastAccessed, now), s, p.W)
}

func daysBetween(a, b time.Time) float64 {
	d := b.Sub(a)
	if d < 0 {
		d = 0
	}
	return d.Hours() / 24
}

func isSameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// fuzzSeed derives a deterministic pseudo-random value in [0,1) from now,
// so interval fuzzing desynchronises mass reviews without relying on a
// global RNG that would make Review's output depend on call order.
func fuzzSeed(now time.Time) float64 {
	nanos := now.UnixNano()
	const m = 1000003
	return float64(((nanos%m)+m)%m) / float64(m)
}
