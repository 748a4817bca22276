package emotion

import "testing"

func TestClassifyDistressIsSad(t *testing.T) {
	for _, label := range []string{"distressed", "DISTRESS detected", "mild Distress"} {
		if got := Classify(label); got != Sad {
			t.Fatalf("Classify(%q) = %s, want sad", label, got)
		}
	}
}

func TestClassifySmilingIsHappy(t *testing.T) {
	if got := Classify("Smiling broadly"); got != Happy {
		t.Fatalf("expected happy, got %s", got)
	}
}

func TestClassifyAngry(t *testing.T) {
	if got := Classify("sounds angry"); got != Angry {
		t.Fatalf("expected angry, got %s", got)
	}
}

func TestClassifyEmptyIsNeutral(t *testing.T) {
	if got := Classify(""); got != Neutral {
		t.Fatalf("expected neutral, got %s", got)
	}
	if got := Classify("   "); got != Neutral {
		t.Fatalf("expected neutral for blank label, got %s", got)
	}
}

func TestClassifySadWinsOverHappy(t *testing.T) {
	// Rule order: sadness indicators outrank positive ones.
	if got := Classify("positive but lonely"); got != Sad {
		t.Fatalf("expected sad, got %s", got)
	}
}

func TestClassifyUnknownIsNeutral(t *testing.T) {
	if got := Classify("perplexed"); got != Neutral {
		t.Fatalf("expected neutral fallback, got %s", got)
	}
}
