package meetings

import (
	"strings"

	"github.com/teamsync/core/pkg/models"
)

// Title keywords that move the importance score. Matching is
// case-insensitive substring.
var (
	importantKeywords = []string{
		"standup", "sprint", "planning", "retrospective", "review",
		"all-hands", "1:1 with manager", "kickoff", "postmortem",
	}
	negativeKeywords = []string{
		"social", "coffee", "optional", "tentative", "hold", "placeholder",
	}
)

// ScoreImportance computes the 0-100 importance estimate for a newly
// discovered meeting. Existing rows keep their stored score; callers
// must only apply this to fresh inserts. The score never sets the
// is_important flag, which stays under user control.
func ScoreImportance(m *models.Meeting) int {
	score := 50

	title := strings.ToLower(m.Title)
	for _, kw := range importantKeywords {
		if strings.Contains(title, kw) {
			score += 30
			break
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(title, kw) {
			score -= 20
			break
		}
	}

	n := len(m.Attendees)
	if n >= 5 {
		score += 20
	}
	if n >= 10 {
		score += 10
	}

	if recurring, ok := m.Metadata[models.MetaRecurring].(bool); ok && recurring {
		score += 10
	}
	if m.URL != "" {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
