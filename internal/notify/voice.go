package notify

import (
	"context"
	"log/slog"

	"github.com/randytsao24/timeright/internal/decision"
)

// UrgentRate is the speech rate used for urgent announcements
const UrgentRate = 1.1

// Utterance is one spoken announcement
type Utterance struct {
	Text   string  `json:"text"`
	Urgent bool    `json:"urgent"`
	Rate   float64 `json:"rate"`
}

// Voice speaks announcements
type Voice interface {
	Speak(ctx context.Context, u Utterance) error
}

// UtteranceFor builds the announcement for a decision
func UtteranceFor(d decision.Decision) Utterance {
	u := Utterance{Text: d.Headline, Rate: 1.0}
	if d.Urgency == decision.UrgencyHigh {
		u.Urgent = true
		u.Rate = UrgentRate
	}
	return u
}

// LogVoice writes announcements to a logger instead of a speaker
type LogVoice struct {
	Logger *slog.Logger
}

func (v LogVoice) Speak(ctx context.Context, u Utterance) error {
	l := v.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "speak", "text", u.Text, "urgent", u.Urgent, "rate", u.Rate)
	return nil
}
