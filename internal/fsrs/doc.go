// Package fsrs implements the FSRS-6 spaced-repetition scheduler: the
// retrievability/interval/stability/difficulty formulas, the
// {new,learning,review,relearning} state machine, and a Preview operation
// for showing the consequence of each possible rating before it is chosen.
package fsrs
