package routing

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/conduit-ai/conduit/pkg/types"
)

// sentenceEnd matches terminal punctuation followed by whitespace.
var sentenceEnd = regexp.MustCompile(`([.!?]+)\s+`)

// ═══════════════════════════════════════════════════════════════════════════════
// PROMPT SEGMENTER
// ═══════════════════════════════════════════════════════════════════════════════

// Segment splits a prompt into ordered pieces whose estimated token count
// stays within maxTokens. Splitting happens on blank-line paragraph
// boundaries first, then on sentence boundaries for paragraphs that alone
// exceed the budget. A single run-on sentence over budget is emitted verbatim
// and logged; content is never truncated.
func Segment(prompt string, maxTokens int, log zerolog.Logger) []string {
	if maxTokens <= 0 || types.EstimateTokens(prompt) <= maxTokens {
		return []string{prompt}
	}

	var segments []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			segments = append(segments, strings.Join(current, "\n\n"))
			current = current[:0]
			currentLen = 0
		}
	}

	for _, para := range strings.Split(prompt, "\n\n") {
		paraTokens := types.EstimateTokens(para)

		if paraTokens > maxTokens {
			// Paragraph alone is over budget, fall through to sentences.
			flush()
			segments = append(segments, segmentSentences(para, maxTokens, log)...)
			continue
		}

		// +2 for the rejoined paragraph separator.
		joined := currentLen + len(para)
		if len(current) > 0 {
			joined += 2
		}
		if len(current) > 0 && (joined+types.CharsPerToken-1)/types.CharsPerToken > maxTokens {
			flush()
		}
		current = append(current, para)
		currentLen += len(para)
		if len(current) > 1 {
			currentLen += 2
		}
	}
	flush()

	return segments
}

// segmentSentences greedily packs sentences of an oversized paragraph.
func segmentSentences(para string, maxTokens int, log zerolog.Logger) []string {
	sentences := splitSentences(para)

	var segments []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			segments = append(segments, strings.Join(current, " "))
			current = current[:0]
			currentLen = 0
		}
	}

	for _, sentence := range sentences {
		if types.EstimateTokens(sentence) > maxTokens {
			flush()
			// Unsplittable run-on sentence: keep it intact over budget.
			segments = append(segments, sentence)
			log.Warn().
				Int("estimated_tokens", types.EstimateTokens(sentence)).
				Int("budget", maxTokens).
				Msg("sentence exceeds segment budget, emitting verbatim")
			continue
		}

		joined := currentLen + len(sentence)
		if len(current) > 0 {
			joined++
		}
		if len(current) > 0 && (joined+types.CharsPerToken-1)/types.CharsPerToken > maxTokens {
			flush()
		}
		current = append(current, sentence)
		currentLen += len(sentence)
		if len(current) > 1 {
			currentLen++
		}
	}
	flush()

	return segments
}

// splitSentences cuts text on terminal punctuation followed by whitespace,
// keeping the punctuation with the preceding sentence.
func splitSentences(text string) []string {
	locs := sentenceEnd.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var out []string
	start := 0
	for _, loc := range locs {
		// loc[3] is the end of the punctuation group.
		end := loc[3]
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
