package emotion

import "strings"

// Emotion is the closed set of states the avatar and UI can render.
type Emotion string

const (
	Neutral   Emotion = "neutral"
	Happy     Emotion = "happy"
	Sad       Emotion = "sad"
	Angry     Emotion = "angry"
	Listening Emotion = "listening"
	Thinking  Emotion = "thinking"
)

// fusionRules maps free-text sentiment labels to an Emotion. Rules are
// evaluated in order and the first keyword hit wins, so sadness indicators
// take precedence over positive ones when a label carries both.
var fusionRules = []struct {
	keywords []string
	emotion  Emotion
}{
	{[]string{"sad", "negative", "lonely", "distress"}, Sad},
	{[]string{"happy", "positive", "smiling"}, Happy},
	{[]string{"angry"}, Angry},
}

// Classify normalizes a raw analysis label into an Emotion. Upstream analysis
// services return unconstrained natural language ("somewhat distressed",
// "Smiling broadly"); this is the single point where that text becomes a
// closed enum. Unmatched or empty input yields Neutral.
func Classify(sentimentLabel string) Emotion {
	normalized := strings.ToLower(strings.TrimSpace(sentimentLabel))
	if normalized == "" {
		return Neutral
	}

	for _, rule := range fusionRules {
		for _, word := range rule.keywords {
			if strings.Contains(normalized, word) {
				return rule.emotion
			}
		}
	}

	return Neutral
}
