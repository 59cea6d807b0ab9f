package playback

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// Signal weights. Each signal contributes to maxScore only when the
// fingerprint recorded it, so confidence normalizes over the signals that
// actually exist. Visibility is the one exception: always counted, and
// failing it zeroes the whole candidate.
const (
	weightText        = 30.0
	weightRole        = 20.0
	weightAriaLabel   = 20.0
	weightPlaceholder = 15.0
	weightHref        = 25.0
	weightHrefPartial = 15.0
	weightParentRole  = 5.0
	weightParentClass = 5.0
	weightVisibility  = 15.0
)

// Text similarity tiers. An exact match outranks substring containment,
// which outranks a Levenshtein near-miss.
const (
	tierSubstring = 0.8
	tierNearMiss  = 0.7
)

// topCandidatesLogged bounds the per-resolution diagnostic dump.
const topCandidatesLogged = 5

// Scorer turns a fingerprint plus a collected candidate list into the single
// best live element, or nothing. All arithmetic is host-side and pure; the
// page is never consulted. The asymmetry is deliberate: returning no match is
// always preferable to acting on the wrong element.
type Scorer struct {
	logger *zap.Logger
	// minConfidence is the acceptance floor (0-100). Operator-configurable
	// through the settings store; 60 is the conservative default.
	minConfidence int
}

// NewScorer creates a scorer with the given acceptance floor.
func NewScorer(logger *zap.Logger, minConfidence int) *Scorer {
	return &Scorer{
		logger:        logger.Named("scorer"),
		minConfidence: minConfidence,
	}
}

// Score evaluates one candidate element against the fingerprint and returns
// the full per-signal breakdown.
func (s *Scorer) Score(fp schemas.Fingerprint, el schemas.PageElement) schemas.Candidate {
	var (
		score    float64
		maxScore float64
		matches  []schemas.SignalMatch
	)

	addMatch := func(signal string, awarded, max float64, reason string) {
		score += awarded
		maxScore += max
		matches = append(matches, schemas.SignalMatch{Signal: signal, Awarded: awarded, Max: max, Reason: reason})
	}

	if fp.Text != "" {
		awarded, reason := scoreText(fp.Text, el.Text)
		addMatch("text", awarded, weightText, reason)
	}

	if fp.Role != "" {
		if roleMatches(fp.Role, el.Tag, el.Role) {
			addMatch("role", weightRole, weightRole, fmt.Sprintf("role %q matches tag %q", fp.Role, el.Tag))
		} else {
			addMatch("role", 0, weightRole, fmt.Sprintf("role mismatch: wanted %q, element is %q role=%q", fp.Role, el.Tag, el.Role))
		}
	}

	if fp.AriaLabel != "" {
		if strings.TrimSpace(fp.AriaLabel) == strings.TrimSpace(el.AriaLabel) {
			addMatch("ariaLabel", weightAriaLabel, weightAriaLabel, "aria-label exact match")
		} else {
			addMatch("ariaLabel", 0, weightAriaLabel, fmt.Sprintf("aria-label mismatch: wanted %q, got %q", fp.AriaLabel, el.AriaLabel))
		}
	}

	if fp.Placeholder != "" {
		if strings.TrimSpace(fp.Placeholder) == strings.TrimSpace(el.Placeholder) {
			addMatch("placeholder", weightPlaceholder, weightPlaceholder, "placeholder exact match")
		} else {
			addMatch("placeholder", 0, weightPlaceholder, fmt.Sprintf("placeholder mismatch: wanted %q, got %q", fp.Placeholder, el.Placeholder))
		}
	}

	if fp.Href != "" {
		awarded, reason := scoreHref(fp.Href, el.Href)
		addMatch("href", awarded, weightHref, reason)
	}

	if fp.ParentRole != "" {
		if strings.EqualFold(strings.TrimSpace(fp.ParentRole), strings.TrimSpace(el.ParentRole)) {
			addMatch("parentRole", weightParentRole, weightParentRole, "parent role match")
		} else {
			addMatch("parentRole", 0, weightParentRole, fmt.Sprintf("parent role mismatch: wanted %q, got %q", fp.ParentRole, el.ParentRole))
		}
	}

	if fp.ParentClass != "" {
		want := firstClass(fp.ParentClass)
		got := firstClass(el.ParentClass)
		if want != "" && want == got {
			addMatch("parentClass", weightParentClass, weightParentClass, fmt.Sprintf("parent class %q match", want))
		} else {
			addMatch("parentClass", 0, weightParentClass, fmt.Sprintf("parent class mismatch: wanted %q, got %q", want, got))
		}
	}

	// Visibility is mandatory regardless of which signals were recorded. An
	// invisible element is never an acceptable match, so failing it vetoes
	// the candidate outright.
	visible := el.Visible
	if visible {
		addMatch("visibility", weightVisibility, weightVisibility, "element is visible")
	} else {
		addMatch("visibility", 0, weightVisibility, "element is not visible")
	}

	confidence := 0
	if maxScore > 0 && visible {
		confidence = int(math.Round(100 * score / maxScore))
	}

	return schemas.Candidate{
		Element:    el,
		Score:      score,
		MaxScore:   maxScore,
		Confidence: confidence,
		Matches:    matches,
	}
}

// Best scores every collected element and returns the top candidate if it
// clears the acceptance floor. The top candidates are logged with their full
// per-signal breakdown so a human can diagnose why a formerly working
// recording stopped matching.
func (s *Scorer) Best(fp schemas.Fingerprint, elements []schemas.PageElement) (*schemas.Candidate, error) {
	if fp.Empty() {
		return nil, ErrEmptyFingerprint
	}
	if len(elements) == 0 {
		return nil, ErrElementNotFound
	}

	candidates := make([]schemas.Candidate, 0, len(elements))
	for _, el := range elements {
		candidates = append(candidates, s.Score(fp, el))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	s.logCandidates(fp, candidates)

	best := candidates[0]
	if best.Confidence < s.minConfidence {
		return nil, fmt.Errorf("best candidate %s scored %d%% (floor %d%%): %w",
			condenseHTML(best.Element.OuterHTML, 80), best.Confidence, s.minConfidence, ErrNoMatch)
	}
	return &best, nil
}

func (s *Scorer) logCandidates(fp schemas.Fingerprint, candidates []schemas.Candidate) {
	n := len(candidates)
	if n > topCandidatesLogged {
		n = topCandidatesLogged
	}
	for i := 0; i < n; i++ {
		c := candidates[i]
		reasons := make([]string, 0, len(c.Matches))
		for _, m := range c.Matches {
			reasons = append(reasons, fmt.Sprintf("%s %.0f/%.0f (%s)", m.Signal, m.Awarded, m.Max, m.Reason))
		}
		s.logger.Debug("Scored candidate.",
			zap.Int("rank", i+1),
			zap.Int("confidence", c.Confidence),
			zap.Float64("score", c.Score),
			zap.Float64("max_score", c.MaxScore),
			zap.String("element", condenseHTML(c.Element.OuterHTML, 120)),
			zap.Strings("signals", reasons),
			zap.String("wanted_text", fp.Text),
		)
	}
}

// scoreText applies the tiered text similarity: exact match after
// trim/lowercase takes full credit, substring containment either direction
// takes the substring tier, a bounded Levenshtein distance takes the
// near-miss tier, anything else scores zero with an explicit reason.
func scoreText(want, got string) (float64, string) {
	w := strings.ToLower(strings.TrimSpace(want))
	g := strings.ToLower(strings.TrimSpace(got))

	if w == g {
		return weightText, "text exact match"
	}
	if w == "" || g == "" {
		return 0, fmt.Sprintf("text mismatch: wanted %q, got %q", want, got)
	}
	if strings.Contains(g, w) || strings.Contains(w, g) {
		return weightText * tierSubstring, "text substring containment"
	}
	dist := levenshtein(w, g)
	if dist <= levenshteinBound(len(w)) {
		return weightText * tierNearMiss, fmt.Sprintf("text near-miss (levenshtein %d)", dist)
	}
	return 0, fmt.Sprintf("text mismatch: wanted %q, got %q (levenshtein %d)", want, got, dist)
}

// scoreHref gives full credit for an exact href match and partial credit for
// containment either direction, since hrefs routinely gain query parameters
// over time.
func scoreHref(want, got string) (float64, string) {
	w := strings.TrimSpace(want)
	g := strings.TrimSpace(got)

	if w == g {
		return weightHref, "href exact match"
	}
	if w == "" || g == "" {
		return 0, fmt.Sprintf("href mismatch: wanted %q, got %q", want, got)
	}
	if strings.Contains(g, w) || strings.Contains(w, g) {
		return weightHrefPartial, "href substring containment"
	}
	return 0, fmt.Sprintf("href mismatch: wanted %q, got %q", want, got)
}

// roleMatches applies exact tag/role equality with the tag aliasing a
// recorded role implies: "button" matches a <button>, "input" an <input>,
// "link" an <a>.
func roleMatches(want, tag, role string) bool {
	w := strings.ToLower(strings.TrimSpace(want))
	tg := strings.ToLower(strings.TrimSpace(tag))
	rl := strings.ToLower(strings.TrimSpace(role))

	if w == "" {
		return false
	}
	if w == rl || w == tg {
		return true
	}
	switch w {
	case "link":
		return tg == "a"
	case "a":
		return rl == "link"
	}
	return false
}

// firstClass returns the first class name out of a space-separated class
// attribute value.
func firstClass(classAttr string) string {
	fields := strings.Fields(classAttr)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
