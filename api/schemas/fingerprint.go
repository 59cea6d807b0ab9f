package schemas

// -- Identification Fingerprint Schemas --

// Coordinates is the absolute position of an element captured at recording
// time. X/Y are page coordinates of the click point; ElementX/ElementY are
// the element's own top-left corner when it was captured.
type Coordinates struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	ElementX *float64 `json:"elementX,omitempty"`
	ElementY *float64 `json:"elementY,omitempty"`
}

// Viewport captures the scroll and viewport context at recording time. It is
// used to realign the page before any coordinate-based action so the recorded
// absolute position means the same thing it did during capture.
type Viewport struct {
	Width   int64   `json:"width"`
	Height  int64   `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// Fingerprint is the semantic description of a target element, captured once
// at recording time and treated as immutable during playback. Page markup
// drifts between visits, so playback never stores positional selectors;
// instead each signal here is re-scored against the live page on every run.
type Fingerprint struct {
	// Text is the visible text content of the element at recording time.
	Text string `json:"text,omitempty"`
	// AriaLabel, Placeholder, Title and Role are accessibility attributes.
	AriaLabel   string `json:"ariaLabel,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Title       string `json:"title,omitempty"`
	Role        string `json:"role,omitempty"`
	// NearbyLabels holds the text of nearby labeling elements, kept as
	// fallback context for human diagnosis of failed resolutions.
	NearbyLabels []string `json:"nearbyLabels,omitempty"`
	// Href is the link target. Decisive for navigation elements.
	Href string `json:"href,omitempty"`
	// ParentRole and ParentClass give one level of structural context.
	ParentRole  string `json:"parentRole,omitempty"`
	ParentClass string `json:"parentClass,omitempty"`
	// Coordinates is the last-resort absolute position.
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	// Viewport is the scroll/viewport context at capture time.
	Viewport *Viewport `json:"viewport,omitempty"`
}

// Empty reports whether the fingerprint carries no usable signal at all.
// At least one of text, aria-label, placeholder, role, href or coordinates
// must be present for the fingerprint to be scoreable.
func (f Fingerprint) Empty() bool {
	return f.Text == "" &&
		f.AriaLabel == "" &&
		f.Placeholder == "" &&
		f.Role == "" &&
		f.Href == "" &&
		f.Coordinates == nil
}

// HasCoordinates reports whether a coordinate fallback is possible.
func (f Fingerprint) HasCoordinates() bool {
	return f.Coordinates != nil
}
