package traits

var descriptions = map[Trait]map[Level]string{
	Correctness: {
		1: "often gets facts wrong or mixes up steps, but states them confidently",
		2: "mostly right with the occasional slip or gap",
		3: "accurate and careful with details",
	},
	Conciseness: {
		1: "rambles, repeats itself and wanders off topic",
		2: "a few sentences, some filler",
		3: "one short, direct sentence",
	},
	TypingPersonality: {
		1: "lowercase, typos, little punctuation, texting style",
		2: "casual but readable, a stray typo here and there",
		3: "clean, fully punctuated prose",
	},
	Attention: {
		1: "half-listening, answers a different question or gets distracted",
		2: "follows along but misses some of what was asked",
		3: "responds precisely to what the tutor just said",
	},
	Comprehension: {
		2: "partially understands and says so, asks for clarification",
		3: "understands and tries to build on the idea",
	},
	Patience: {
		1: "impatient, wants the answer now",
		2: "willing to go along for a while",
		3: "happy to work through it step by step",
	},
}

// Describe returns the behavioral description for a trait level.
func Describe(t Trait, l Level) string {
	return descriptions[t][l]
}
