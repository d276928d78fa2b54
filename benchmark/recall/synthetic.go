package recall

import (
	"fmt"
	"math/rand"
)

// Synthetic corpus generation, so the benchmark runs without an external
// dataset download. Facts are planted across many filler turns; each QA's
// evidence points at the turn carrying its fact.

var syntheticTopics = []struct {
	subject string
	fact    string
	query   string
	answer  string
}{
	{"astronomy", "Neptune takes 165 Earth years to orbit the sun once", "how long does Neptune take to orbit the sun", "165 Earth years"},
	{"biology", "the axolotl can regenerate entire limbs and parts of its heart", "which animal regenerates limbs and heart tissue", "the axolotl"},
	{"history", "the Antikythera mechanism is an ancient Greek analog computer for predicting eclipses", "what was the Antikythera mechanism used for", "predicting eclipses"},
	{"cooking", "browning meat before braising builds flavour through the Maillard reaction", "why brown meat before braising", "the Maillard reaction builds flavour"},
	{"programming", "Go channels block the sender until a receiver is ready unless buffered", "when do Go channels block the sender", "until a receiver is ready unless buffered"},
	{"music", "a perfect fifth has a frequency ratio of three to two", "what is the frequency ratio of a perfect fifth", "three to two"},
	{"geography", "Lake Baikal holds about one fifth of the world's unfrozen fresh water", "which lake holds a fifth of the world's fresh water", "Lake Baikal"},
	{"medicine", "penicillin was discovered by Alexander Fleming in 1928", "who discovered penicillin", "Alexander Fleming in 1928"},
}

var fillerTemplates = []string{
	"I spent the afternoon reorganising my desk and it took longer than expected",
	"the weather has been strange this week, cold mornings and warm evenings",
	"I tried a new coffee place near the station, nothing special",
	"my neighbour is renovating again, the drilling never stops",
	"I keep meaning to go running more often but something always comes up",
	"we watched an old film last night and half the jokes hold up",
	"the train was delayed twice today, second time this month",
	"I repotted the plants on the balcony, they needed bigger pots",
}

// GenerateSynthetic builds a deterministic synthetic conversation with
// totalTurns turns: each topic's fact is planted once, everything else is
// filler, and one QA per topic points at the planted turn as evidence.
func GenerateSynthetic(totalTurns int, seed int64) *Dataset {
	if totalTurns < len(syntheticTopics)*2 {
		totalTurns = len(syntheticTopics) * 2
	}
	rng := rand.New(rand.NewSource(seed))

	speakers := [2]string{"Ada", "Ben"}
	conv := Conversation{
		ID:       fmt.Sprintf("synthetic-%d", seed),
		SpeakerA: speakers[0],
		SpeakerB: speakers[1],
		Sessions: make(map[string][]Turn),
	}

	// Spread fact turns evenly through the corpus so early checkpoints
	// have some evidence and later ones have it all.
	factPositions := make(map[int]int, len(syntheticTopics))
	stride := totalTurns / len(syntheticTopics)
	for i := range syntheticTopics {
		factPositions[i*stride+rng.Intn(stride/2+1)] = i
	}

	const turnsPerSession = 20
	for pos := 0; pos < totalTurns; pos++ {
		session := fmt.Sprintf("session_%d", pos/turnsPerSession+1)
		diaID := fmt.Sprintf("dia_%d", pos+1)
		speaker := speakers[pos%2]

		var content string
		if topicIdx, ok := factPositions[pos]; ok {
			t := syntheticTopics[topicIdx]
			content = fmt.Sprintf("I read something about %s today: %s.", t.subject, t.fact)
			conv.QA = append(conv.QA, QAAnnotation{
				Question: t.query,
				Answer:   t.answer,
				Evidence: []string{diaID},
				Category: "single_hop",
			})
		} else {
			content = fillerTemplates[rng.Intn(len(fillerTemplates))] +
				fmt.Sprintf(" (day %d)", pos/turnsPerSession+1)
		}

		conv.Sessions[session] = append(conv.Sessions[session], Turn{
			DiaID:   diaID,
			Speaker: speaker,
			Content: content,
		})
	}

	return &Dataset{Conversations: []Conversation{conv}}
}
