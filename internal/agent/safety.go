package agent

import (
	"regexp"
	"strings"
)

// emergencyStems are matched case-insensitively as substrings, so German
// compounds like "Brustschmerzen" or "Notfallnummer" hit their stem.
var emergencyStems = []string{
	"brustschmerz",
	"herzinfarkt",
	"herzstillstand",
	"atemnot",
	"keine luft",
	"bewusstlos",
	"ohnmacht",
	"schlaganfall",
	"notfall",
	"notarzt",
	"suizid",
}

// emergencyPhrases must stand as whole words. A bare "stroke" or "emergency"
// is too common in swim and facility questions.
var emergencyPhrases = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
	`chest pains?`,
	`heart attack`,
	`cardiac arrest`,
	`can'?t breathe`,
	`cannot breathe`,
	`unconscious`,
	`fainted`,
	`(having|had) a stroke`,
	`medical emergency`,
	`call (an|the) ambulance`,
	`suicidal`,
	`suicide`,
}, "|") + `)\b`)

// IsEmergency reports whether content names an emergency.
func IsEmergency(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range emergencyStems {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return emergencyPhrases.MatchString(content)
}
