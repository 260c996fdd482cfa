package core

type ObjectType string

const (
	Rectangle ObjectType = "rectangle"
	Circle    ObjectType = "circle"
	Text      ObjectType = "text"
)

type (
	// CanvasObject is the unit of mutation and locking. Rectangles and text
	// are addressed by their top-left corner; circles by their center point.
	CanvasObject struct {
		ID      string     `json:"id"`
		BoardID string     `json:"boardId"`
		Type    ObjectType `json:"type"`

		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width,omitempty"`
		Height   float64 `json:"height,omitempty"`
		Radius   float64 `json:"radius,omitempty"`
		Rotation float64 `json:"rotation"`

		Color           string  `json:"color,omitempty"`
		Text            string  `json:"text,omitempty"`
		FontFamily      string  `json:"fontFamily,omitempty"`
		FontSize        float64 `json:"fontSize,omitempty"`
		FontWeight      string  `json:"fontWeight,omitempty"`
		FontStyle       string  `json:"fontStyle,omitempty"`
		TextDecoration  string  `json:"textDecoration,omitempty"`
		TextAlign       string  `json:"textAlign,omitempty"`
		TextColor       string  `json:"textColor,omitempty"`
		BackgroundColor string  `json:"backgroundColor,omitempty"`

		CreatedBy  string `json:"createdBy"`
		ModifiedBy string `json:"modifiedBy"`
		Version    int64  `json:"version"`
		LockedBy   string `json:"lockedBy,omitempty"`
		LockedAt   int64  `json:"lockedAt,omitempty"`
	}

	// Patch is a partial-field update. Nil fields are left untouched.
	// Setting LockedBy to the empty string releases the lock.
	Patch struct {
		X        *float64 `json:"x,omitempty"`
		Y        *float64 `json:"y,omitempty"`
		Width    *float64 `json:"width,omitempty"`
		Height   *float64 `json:"height,omitempty"`
		Radius   *float64 `json:"radius,omitempty"`
		Rotation *float64 `json:"rotation,omitempty"`

		Color           *string  `json:"color,omitempty"`
		Text            *string  `json:"text,omitempty"`
		FontFamily      *string  `json:"fontFamily,omitempty"`
		FontSize        *float64 `json:"fontSize,omitempty"`
		FontWeight      *string  `json:"fontWeight,omitempty"`
		FontStyle       *string  `json:"fontStyle,omitempty"`
		TextDecoration  *string  `json:"textDecoration,omitempty"`
		TextAlign       *string  `json:"textAlign,omitempty"`
		TextColor       *string  `json:"textColor,omitempty"`
		BackgroundColor *string  `json:"backgroundColor,omitempty"`

		ModifiedBy *string `json:"modifiedBy,omitempty"`
		LockedBy   *string `json:"lockedBy,omitempty"`
		LockedAt   *int64  `json:"lockedAt,omitempty"`
	}
)

// Apply merges p into o and sanitizes the result: rotation is normalized and
// geometry is clamped so the bounding box stays inside the canvas extent.
// Out-of-bounds input is never an error.
func (o *CanvasObject) Apply(p Patch) {
	if p.X != nil {
		o.X = *p.X
	}
	if p.Y != nil {
		o.Y = *p.Y
	}
	if p.Width != nil {
		o.Width = *p.Width
	}
	if p.Height != nil {
		o.Height = *p.Height
	}
	if p.Radius != nil {
		o.Radius = *p.Radius
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if p.Color != nil {
		o.Color = *p.Color
	}
	if p.Text != nil {
		o.Text = *p.Text
	}
	if p.FontFamily != nil {
		o.FontFamily = *p.FontFamily
	}
	if p.FontSize != nil {
		o.FontSize = *p.FontSize
	}
	if p.FontWeight != nil {
		o.FontWeight = *p.FontWeight
	}
	if p.FontStyle != nil {
		o.FontStyle = *p.FontStyle
	}
	if p.TextDecoration != nil {
		o.TextDecoration = *p.TextDecoration
	}
	if p.TextAlign != nil {
		o.TextAlign = *p.TextAlign
	}
	if p.TextColor != nil {
		o.TextColor = *p.TextColor
	}
	if p.BackgroundColor != nil {
		o.BackgroundColor = *p.BackgroundColor
	}
	if p.ModifiedBy != nil {
		o.ModifiedBy = *p.ModifiedBy
	}
	if p.LockedBy != nil {
		o.LockedBy = *p.LockedBy
		if o.LockedBy == "" {
			o.LockedAt = 0
		}
	}
	if p.LockedAt != nil {
		o.LockedAt = *p.LockedAt
	}
	o.Sanitize()
}

// Clone returns an independent copy of o.
func (o *CanvasObject) Clone() *CanvasObject {
	c := *o
	return &c
}

// Locked reports whether any user currently holds the lock on o.
func (o *CanvasObject) Locked() bool {
	return o.LockedBy != ""
}

// ClaimsLock reports whether p attempts to set a lock holder.
func (p Patch) ClaimsLock() bool {
	return p.LockedBy != nil && *p.LockedBy != ""
}

// Float returns a pointer to v, for building patches.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

// Int returns a pointer to v, for building patches.
func Int(v int64) *int64 { return &v }
