package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ovillere/dinerate/internal/models"
)

var urlPattern = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)

// maxCharRun is the longest run of one repeated rune a comment may contain
const maxCharRun = 7

// allCapsThreshold is the fraction of letters that may be upper case
// before a comment is treated as shouting spam.
const allCapsThreshold = 0.8

// minimum letters before the all-caps check applies; short exclamations
// like "WOW" are fine.
const allCapsMinLetters = 12

// checkBusinessRules is stage 5: timestamp plausibility and comment
// spam screening.
func (g *Gate) checkBusinessRules(sub models.RatingSubmission) []string {
	var reasons []string

	now := g.now()
	if sub.SubmittedAt.After(now.Add(g.fraud.MaxClockSkew)) {
		reasons = append(reasons, "submission timestamp is in the future")
	}
	if sub.SubmittedAt.Before(now.Add(-g.fraud.MaxRatingAge)) {
		reasons = append(reasons, fmt.Sprintf("submission timestamp is older than %d days",
			int(g.fraud.MaxRatingAge.Hours()/24)))
	}

	reasons = append(reasons, screenComment(sub.Comment)...)

	return reasons
}

// screenComment applies the spam heuristics to free text
func screenComment(comment string) []string {
	if strings.TrimSpace(comment) == "" {
		return nil
	}

	var reasons []string

	if urlPattern.MatchString(comment) {
		reasons = append(reasons, "comments may not contain URLs")
	}
	if hasCharRun(comment, maxCharRun) {
		reasons = append(reasons, "comment contains long repeated character runs")
	}
	if isShouting(comment) {
		reasons = append(reasons, "comment is written almost entirely in capitals")
	}

	return reasons
}

// hasCharRun reports whether any rune repeats more than max times in a
// row. Backreferences are not expressible in Go's regexp, so this is a
// plain scan.
func hasCharRun(comment string, max int) bool {
	var prev rune
	run := 0
	for _, r := range comment {
		if r == prev {
			run++
			if run > max {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func isShouting(comment string) bool {
	letters, uppers := 0, 0
	for _, r := range comment {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters < allCapsMinLetters {
		return false
	}
	return float64(uppers)/float64(letters) >= allCapsThreshold
}
