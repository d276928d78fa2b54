package engine

import (
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/fsrs"
)

// ReviewOutcome is the result of applying one rating to a memory.
type ReviewOutcome struct {
	Node           *database.MemoryNode
	Rating         fsrs.Rating
	Retrievability float64
	Interval       int // scheduled days until next review
}

// MarkReviewed applies an FSRS rating to the node: the scheduler computes
// the next state, the store persists it atomically with its state
// transition, and the dual-strength scalars move with the outcome.
func (e *Engine) MarkReviewed(id string, rating int) (*ReviewOutcome, error) {
	g := fsrs.Rating(rating)
	// The scheduler validates too, but rejecting here keeps the store
	// untouched for out-of-range input.
	if !g.Valid() {
		return nil, engerr.Invalid("rating %d is outside {1,2,3,4}", rating)
	}

	node, err := database.GetMemoryNode(e.DB, id)
	if err != nil {
		return nil, err
	}

	now := e.Now()

	// A same-calendar-day repeat of the same rating is absorbed: the
	// review already counted once today and re-submitting it must not
	// compound the same-day stability adjustment.
	if e.isDuplicateReviewToday(id, rating, now) {
		return &ReviewOutcome{
			Node:           node,
			Rating:         g,
			Retrievability: e.Scheduler.Params.RetrievabilityNow(node.Stability, node.LastAccessed, now),
			Interval:       node.ScheduledDays,
		}, nil
	}

	state := nodeFSRSState(node)

	result, err := e.Scheduler.Review(state, g, now)
	if err != nil {
		return nil, err
	}
	next := result.State

	// Emotionally salient memories consolidate harder (synaptic tagging).
	if node.SentimentMagnitude > 0 {
		next.Stability = fsrs.ApplySentimentBoost(next.Stability, node.SentimentMagnitude,
			e.Gate.Config.EmotionalBoostK, node.WakingTag, fsrs.MinStability*100)
	}

	// Bjork dual strengths: a successful recall raises both; a lapse
	// drops retrieval strength while storage strength survives.
	storage := node.StorageStrength
	retrievalStrength := node.RetrievalStrength
	if g == fsrs.RatingAgain {
		retrievalStrength *= 0.5
	} else {
		storage += (1 - storage) * 0.15
		retrievalStrength += (1 - retrievalStrength) * 0.5
	}

	learningState := string(next.LearningState)
	retention := result.Retrievability
	update := &database.NodeUpdate{
		Stability:         &next.Stability,
		Difficulty:        &next.Difficulty,
		Reps:              &next.Reps,
		Lapses:            &next.Lapses,
		LearningState:     &learningState,
		NextReview:        &next.NextReview,
		ScheduledDays:     &next.ScheduledDays,
		StorageStrength:   &storage,
		RetrievalStrength: &retrievalStrength,
		RetentionStrength: &retention,
	}
	if err := database.UpdateMemoryNode(e.DB, id, update); err != nil {
		return nil, err
	}
	if _, err := e.DB.Exec("UPDATE memory_nodes SET last_accessed = ? WHERE id = ?", now, id); err != nil {
		log.Warn("failed to touch last_accessed on review", "id", id, "error", err)
	}
	if err := database.InsertStateTransition(e.DB, &database.StateTransition{
		MemoryID:  id,
		FromState: node.LearningState,
		ToState:   learningState,
		Reason:    "review",
		Detail:    ratingDetail(g),
		Timestamp: now,
	}); err != nil {
		log.Warn("failed to record review audit row", "id", id, "error", err)
	}
	e.Consolidator.NoteWrite()

	updated, err := database.GetMemoryNode(e.DB, id)
	if err != nil {
		return nil, err
	}
	return &ReviewOutcome{
		Node:           updated,
		Rating:         g,
		Retrievability: result.Retrievability,
		Interval:       next.ScheduledDays,
	}, nil
}

// PreviewReview returns, for each of the four ratings, the state the node
// would move to, without committing anything.
func (e *Engine) PreviewReview(id string) ([]fsrs.PreviewResult, error) {
	node, err := database.GetMemoryNode(e.DB, id)
	if err != nil {
		return nil, err
	}
	return e.Scheduler.Preview(nodeFSRSState(node), e.Now())
}

// nodeFSRSState lifts the persisted FSRS columns into the scheduler's
// state value. last_accessed stands in for the last review instant: every
// review touches it, and between reviews it is the reference point
// retention decay is measured from.
func nodeFSRSState(n *database.MemoryNode) fsrs.FSRSState {
	state := fsrs.FSRSState{
		Stability:     n.Stability,
		Difficulty:    n.Difficulty,
		Reps:          n.Reps,
		Lapses:        n.Lapses,
		LearningState: fsrs.LearningState(n.LearningState),
		ScheduledDays: n.ScheduledDays,
	}
	if n.Reps > 0 {
		state.LastReview = n.LastAccessed
	}
	if n.NextReview != nil {
		state.NextReview = *n.NextReview
	}
	return state
}

func ratingDetail(g fsrs.Rating) string {
	return "rating=" + string(rune('0'+int(g)))
}

// isDuplicateReviewToday reports whether the audit trail already holds a
// review of the same rating for this memory today.
func (e *Engine) isDuplicateReviewToday(id string, rating int, now time.Time) bool {
	transitions, err := database.ListStateTransitions(e.DB, id)
	if err != nil {
		return false
	}
	want := ratingDetail(fsrs.Rating(rating))
	for i := len(transitions) - 1; i >= 0; i-- {
		tr := transitions[i]
		if tr.Reason != "review" || tr.Detail == "" {
			continue
		}
		return sameCalendarDay(tr.Timestamp, now) && tr.Detail == want
	}
	return false
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
