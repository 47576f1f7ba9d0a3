package generation

import (
	"strconv"
	"strings"

	"github.com/hyperjump/iris/internal/models"
)

const (
	styleBrief    = "Answer briefly in 2-5 sentences."
	styleConcise  = "Answer directly in 1-3 sentences. Do not use bullet points. Mention only the minimal evidence needed."
	styleDetailed = "Write 3-5 paragraphs, about 220-350 words in total. Do not use bullet points. Finish every sentence and never stop mid-sentence."

	retryConcise  = "Your previous answer was empty or incomplete. Answer the query again in 1-3 complete sentences."
	retryDetailed = "Your previous answer was too short or incomplete. Answer the query again in 3-5 complete paragraphs of roughly 220-350 words."
)

// BuildPrompt assembles the instruction sent to the generative endpoint: the image
// signals, up to window prior turns, a style directive chosen from intent, and the query.
func BuildPrompt(features models.FeatureRecord, query string, history []models.ConversationTurn, intent Intent, window int) string {
	var b strings.Builder
	b.WriteString("You are a visual assistant answering questions about one image.\n")
	b.WriteString("Answer only the user's query, using both the image and the structured signals below.\n")
	b.WriteString("Reply with the final answer only. Do not include hidden reasoning, chain-of-thought, or <think> tags.\n\n")

	b.WriteString("Image signals:\n")
	writeSignal(&b, "Caption", orNone(features.Caption))
	writeSignal(&b, "Detected objects", orNone(strings.Join(features.Objects, ", ")))
	writeSignal(&b, "OCR text", orNone(features.OCRText))
	writeSignal(&b, "Scene labels", orNone(strings.Join(features.SceneLabels, ", ")))
	if len(features.ColorFeatures) > 0 {
		writeSignal(&b, "Color features", formatFloats(features.ColorFeatures))
	}
	if len(features.TextureFeatures) > 0 {
		writeSignal(&b, "Texture features", formatFloats(features.TextureFeatures))
	}

	if turns := lastTurns(history, window); len(turns) > 0 {
		b.WriteString("\nConversation so far (use it to resolve follow-up references):\n")
		for _, t := range turns {
			b.WriteString("User: ")
			b.WriteString(t.User)
			b.WriteString("\nAssistant: ")
			b.WriteString(t.Assistant)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nStyle: ")
	b.WriteString(styleFor(intent))
	b.WriteString("\n\nUser query: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n")
	return b.String()
}

// BuildRetryPrompt appends a stricter length instruction to a base prompt.
func BuildRetryPrompt(base string, intent Intent) string {
	directive := retryDetailed
	if intent.Concise && !intent.Detailed {
		directive = retryConcise
	}
	return base + "\n" + directive + "\n"
}

func styleFor(intent Intent) string {
	switch {
	case intent.Detailed:
		return styleDetailed
	case intent.Brief:
		return styleBrief
	case intent.Concise:
		return styleConcise
	default:
		return styleDetailed
	}
}

func writeSignal(b *strings.Builder, name, value string) {
	b.WriteString("- ")
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func formatFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'f', 3, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func lastTurns(history []models.ConversationTurn, n int) []models.ConversationTurn {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
