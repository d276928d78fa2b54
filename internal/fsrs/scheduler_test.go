package fsrs

import (
	"errors"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

func testScheduler() *Scheduler {
	return NewScheduler(DefaultParameters())
}

func TestReviewRejectsInvalidRatings(t *testing.T) {
	sch := testScheduler()
	now := time.Now().UTC()
	for _, bad := range []Rating{0, 5, -1} {
		if _, err := sch.Review(FSRSState{}, bad, now); !errors.Is(err, engerr.ErrInvalidInput) {
			t.Errorf("rating %d: err = %v, want InvalidInput", bad, err)
		}
	}
}

func TestNewNodeEntersLearning(t *testing.T) {
	sch := testScheduler()
	now := time.Now().UTC()

	for _, g := range []Rating{RatingAgain, RatingHard, RatingGood, RatingEasy} {
		res, err := sch.Review(FSRSState{LearningState: StateNew}, g, now)
		if err != nil {
			t.Fatalf("rating %d: %v", g, err)
		}
		if res.State.LearningState != StateLearning {
			t.Errorf("rating %d: state = %s, want learning", g, res.State.LearningState)
		}
		if res.State.Reps != 1 {
			t.Errorf("rating %d: reps = %d, want 1", g, res.State.Reps)
		}
		if res.State.Stability < MinStability {
			t.Errorf("rating %d: stability %v below floor", g, res.State.Stability)
		}
		if res.State.ScheduledDays < 1 {
			t.Errorf("rating %d: interval %d, want >= 1 day", g, res.State.ScheduledDays)
		}
	}
}

func TestLearningPromotionRequiresSteps(t *testing.T) {
	sch := testScheduler()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// First review: New -> Learning.
	res, err := sch.Review(FSRSState{LearningState: StateNew}, RatingGood, base)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// Second Good on a later day reaches the learning-step threshold and
	// promotes to Review.
	res, err = sch.Review(res.State, RatingGood, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.State.LearningState != StateReview {
		t.Errorf("state after two Goods = %s, want review", res.State.LearningState)
	}
}

func TestAgainFromReviewLapsesToRelearning(t *testing.T) {
	sch := testScheduler()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := FSRSState{
		LearningState: StateReview,
		Stability:     10, Difficulty: 5,
		Reps: 4, Lapses: 0,
		LastReview: base,
	}

	res, err := sch.Review(state, RatingAgain, base.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.State.LearningState != StateRelearning {
		t.Errorf("state = %s, want relearning after Again", res.State.LearningState)
	}
	if res.State.Lapses != 1 {
		t.Errorf("lapses = %d, want 1", res.State.Lapses)
	}
	if res.State.Stability >= state.Stability {
		t.Errorf("stability should fall on a lapse: %v -> %v", state.Stability, res.State.Stability)
	}
	if res.State.Reps < res.State.Lapses {
		t.Errorf("reps %d < lapses %d", res.State.Reps, res.State.Lapses)
	}
}

func TestRelearningRecoversToReview(t *testing.T) {
	sch := testScheduler()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := FSRSState{
		LearningState: StateRelearning,
		Stability:     2, Difficulty: 6,
		Reps: 5, Lapses: 1,
		LastReview: base,
	}

	res, err := sch.Review(state, RatingGood, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.State.LearningState != StateReview {
		t.Errorf("state = %s, want review after Good from relearning", res.State.LearningState)
	}
}

func TestSuccessfulRecallGrowsStability(t *testing.T) {
	sch := testScheduler()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := FSRSState{
		LearningState: StateReview,
		Stability:     5, Difficulty: 5,
		Reps: 3, LastReview: base,
	}
	res, err := sch.Review(state, RatingGood, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.State.Stability <= state.Stability {
		t.Errorf("stability should grow on recall: %v -> %v", state.Stability, res.State.Stability)
	}
}

func TestPreviewCoversAllRatingsWithoutMutating(t *testing.T) {
	sch := testScheduler()
	now := time.Now().UTC()
	state := FSRSState{
		LearningState: StateReview,
		Stability:     8, Difficulty: 4,
		Reps: 2, LastReview: now.AddDate(0, 0, -3),
	}

	previews, err := sch.Preview(state, now)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(previews) != 4 {
		t.Fatalf("previews = %d, want 4", len(previews))
	}

	// Easy must schedule at least as far out as Again.
	var again, easy PreviewResult
	for _, p := range previews {
		switch p.Rating {
		case RatingAgain:
			again = p
		case RatingEasy:
			easy = p
		}
	}
	if easy.Result.State.Stability <= again.Result.State.Stability {
		t.Errorf("easy stability %v should exceed again stability %v",
			easy.Result.State.Stability, again.Result.State.Stability)
	}
	if state.Reps != 2 {
		t.Error("preview mutated the input state")
	}
}

func TestFuzzIntervalBounds(t *testing.T) {
	for _, seed := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		got := FuzzInterval(100, seed)
		if got < 95 || got > 105 {
			t.Errorf("seed %v: fuzzed interval %v outside +/-5%%", seed, got)
		}
	}
	if got := FuzzInterval(1, 0); got < 1 {
		t.Errorf("fuzz below the 1-day floor: %v", got)
	}
}

func TestSentimentBoost(t *testing.T) {
	plain := ApplySentimentBoost(10, 0, EmotionalBoostK, false, 0)
	if plain != 10 {
		t.Errorf("zero magnitude changed stability: %v", plain)
	}

	boosted := ApplySentimentBoost(10, 1, EmotionalBoostK, false, 0)
	if boosted != 15 {
		t.Errorf("full magnitude boost = %v, want 15 (1 + 0.5)", boosted)
	}

	flashbulb := ApplySentimentBoost(0.01, 0, EmotionalBoostK, true, 5)
	if flashbulb < 5 {
		t.Errorf("flashbulb stability %v below its floor", flashbulb)
	}
}

func TestCurrentRetrievabilityUnreviewed(t *testing.T) {
	sch := testScheduler()
	if r := sch.CurrentRetrievability(FSRSState{}, time.Now()); r != 0 {
		t.Errorf("unreviewed retrievability = %v, want 0", r)
	}
}
