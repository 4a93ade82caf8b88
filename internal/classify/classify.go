// Package classify labels prompts with a task category using keyword
// heuristics. Classification is a pure function: the keyword sets and their
// priority order below are part of the routing contract, and identical input
// always yields an identical category.
package classify

import (
	"strings"

	"github.com/conduit-ai/conduit/pkg/types"
)

// Keyword sets, evaluated in priority order. The first category whose set
// matches any substring of the lowercased prompt wins; prompts matching
// nothing are general.
var (
	codingKeywords = []string{
		"code", "function", "debug", "compile", "refactor",
		"implement", "script", "bug", "regex", "algorithm",
		"unit test", "stack trace", "syntax",
	}

	creativeKeywords = []string{
		"poem", "story", "fiction", "creative", "imagine",
		"lyrics", "song", "novel", "screenplay", "haiku",
	}

	analysisKeywords = []string{
		"analyze", "analyse", "analysis", "compare", "evaluate",
		"pros and cons", "assess", "examine", "tradeoff", "trade-off",
	}

	summarizationKeywords = []string{
		"summarize", "summarise", "summary", "tl;dr", "tldr",
		"condense", "recap", "key points", "shorten",
	}
)

// priorityOrder pairs each keyword set with its category, highest priority first.
var priorityOrder = []struct {
	category types.TaskCategory
	keywords []string
}{
	{types.TaskCoding, codingKeywords},
	{types.TaskCreative, creativeKeywords},
	{types.TaskAnalysis, analysisKeywords},
	{types.TaskSummarization, summarizationKeywords},
}

// Classify returns the task category for a prompt.
func Classify(prompt string) types.TaskCategory {
	lower := strings.ToLower(prompt)

	for _, set := range priorityOrder {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.category
			}
		}
	}

	return types.TaskGeneral
}
