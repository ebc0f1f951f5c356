package intent

import "github.com/hybridretrieval/retrieval-core/internal/types"

// canonicalQueries maps each intent to example queries whose embeddings
// anchor that intent in vector space. A query's intent is the label of
// whichever canonical query it is most similar to.
var canonicalQueries = map[types.Intent][]string{
	types.IntentFactual: {
		"what is the timeout value for the retry policy",
		"who owns the billing service",
		"when was this feature released",
		"how many replicas does the cluster run",
	},
	types.IntentKeyword: {
		"ERR_CONNECTION_REFUSED",
		"getUserByID",
		"src/auth/handler.go",
		"NullPointerException stack trace",
	},
	types.IntentExploratory: {
		"what are the tradeoffs between these two approaches",
		"how should I think about scaling this system",
		"what options exist for handling this case",
		"compare the available strategies here",
	},
	types.IntentSummary: {
		"summarize the architecture of this system",
		"give me an overview of how this works end to end",
		"explain the whole request lifecycle",
		"describe everything this module is responsible for",
	},
}

// rulePatterns backs the fallback classifier: a substring match against a
// lowercased, normalized query. Checked in map order is not guaranteed, so
// ruleOrder fixes a deterministic precedence.
var rulePatterns = map[types.Intent][]string{
	types.IntentKeyword: {
		"err_", "exception", ".go:", ".py:", "stack trace", "nullpointer",
	},
	types.IntentSummary: {
		"summarize", "summary of", "overview of", "end to end", "everything about",
	},
	types.IntentExploratory: {
		"tradeoff", "compare", "difference", "explain", "what options", "how should i", "pros and cons",
	},
	types.IntentFactual: {
		"what is", "who is", "who owns", "when was", "how many", "what time",
	},
}

// ruleOrder is checked before rulePatterns' map so ties resolve the same
// way every time: keyword takes precedence over summary over exploratory
// over factual, falling back to unknown.
var ruleOrder = []types.Intent{
	types.IntentKeyword,
	types.IntentSummary,
	types.IntentExploratory,
	types.IntentFactual,
}
