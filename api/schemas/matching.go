package schemas

// -- Element Matching Schemas --

// Rect is an element's bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageElement is the structured snapshot of one live candidate element, as
// returned by the in-page collector script. All scoring arithmetic happens
// host-side against these snapshots; no scoring logic runs inside the page.
type PageElement struct {
	// Index addresses the element for the remainder of the scoring pass. The
	// collector tags each element with a matching data attribute so a chosen
	// candidate can be re-located for the action without re-querying.
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Role        string `json:"role"`
	Text        string `json:"text"`
	AriaLabel   string `json:"ariaLabel"`
	Placeholder string `json:"placeholder"`
	Title       string `json:"title"`
	Href        string `json:"href"`
	InputType   string `json:"inputType"`
	ParentRole  string `json:"parentRole"`
	ParentClass string `json:"parentClass"`
	Visible     bool   `json:"visible"`
	Disabled    bool   `json:"disabled"`
	Rect        Rect   `json:"rect"`
	// OuterHTML is a truncated snippet kept for diagnostic logging.
	OuterHTML string `json:"outerHTML"`
}

// SignalMatch records how one fingerprint signal scored against a candidate.
// The reason string is what lets a human diagnose why a formerly working
// recording stopped matching.
type SignalMatch struct {
	Signal  string  `json:"signal"`
	Awarded float64 `json:"awarded"`
	Max     float64 `json:"max"`
	Reason  string  `json:"reason"`
}

// Candidate is the scored pairing of a fingerprint with one live element.
// Candidates are ephemeral: produced during a single resolution pass,
// discarded once the step completes, never persisted.
type Candidate struct {
	Element    PageElement   `json:"element"`
	Score      float64       `json:"score"`
	MaxScore   float64       `json:"max_score"`
	Confidence int           `json:"confidence"`
	Matches    []SignalMatch `json:"matches"`
}
