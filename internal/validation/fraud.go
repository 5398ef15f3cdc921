package validation

import (
	"context"
	"strings"

	"github.com/ovillere/dinerate/internal/models"
)

// automationMarkers are substrings of environment signals that identify
// headless browsers and scripted clients.
var automationMarkers = []string{
	"headlesschrome",
	"phantomjs",
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"slimerjs",
	"electron",
	"python-requests",
	"curl/",
	"bot",
}

// checkFraud is stage 4: automation markers in the client signature,
// implausibly fast cadence, and statistically implausible sub-score
// combinations. Thresholds come from FraudConfig.
func (g *Gate) checkFraud(ctx context.Context, sub models.RatingSubmission) []string {
	var reasons []string

	if marker := g.automationMarker(sub.Signals); marker != "" {
		reasons = append(reasons, "client signature matches a known automation pattern: "+marker)
	}

	if r := g.implausibleCadence(ctx, sub); r != "" {
		reasons = append(reasons, r)
	}

	reasons = append(reasons, g.implausibleScores(sub)...)

	return reasons
}

func (g *Gate) automationMarker(signals models.DeviceSignals) string {
	haystack := strings.ToLower(signals.UserAgent + " " + signals.Canvas + " " + signals.Fonts)
	for _, marker := range automationMarkers {
		if strings.Contains(haystack, marker) {
			return marker
		}
	}
	return ""
}

// implausibleCadence flags a submission arriving faster after the
// identity's previous interaction than a human plausibly could.
func (g *Gate) implausibleCadence(ctx context.Context, sub models.RatingSubmission) string {
	if g.fraud.MinCadence <= 0 {
		return ""
	}

	guard, err := g.ratings.GetDuplicateGuard(ctx, sub.Identity.PseudonymID, sub.RestaurantID)
	if err != nil || guard == nil {
		// No interaction history; the rate limiter covers first contact.
		return ""
	}
	if since := g.now().Sub(guard.LastInteractionAt); since >= 0 && since < g.fraud.MinCadence {
		return "submission cadence is implausibly fast"
	}
	return ""
}

// implausibleScores applies the combination heuristics: N or more
// identical extreme sub-scores across independent criteria, and
// incoherent quality-versus-cost contradictions.
func (g *Gate) implausibleScores(sub models.RatingSubmission) []string {
	var reasons []string

	scores := sub.SubScores()
	if len(scores) >= g.fraud.IdenticalExtremeMin {
		identical := true
		for _, s := range scores[1:] {
			if s != scores[0] {
				identical = false
				break
			}
		}
		extreme := scores[0] == minSubScore || scores[0] == maxSubScore
		// Overall matching the same extreme makes the pattern a
		// straight-line ballot rather than a genuine opinion.
		if identical && extreme && sub.Overall == scores[0] {
			reasons = append(reasons, "identical extreme scores across independent criteria")
		}
	}

	// "Excellent food, worst price and worst service" does not cohere
	// with a top overall score.
	if sub.Taste != nil && sub.Price != nil && sub.Service != nil {
		if *sub.Taste >= maxSubScore && *sub.Price <= 1 && *sub.Service <= 1 && sub.Overall >= maxOverall-0.5 {
			reasons = append(reasons, "incoherent combination of quality, price and service scores")
		}
	}

	return reasons
}
