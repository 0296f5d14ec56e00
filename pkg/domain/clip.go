package domain

import (
	"time"
)

// Clip is a stored piece of text addressable by a short id. A nil ExpiresAt
// means the clip never expires; the read path must tolerate that.
type Clip struct {
	ID          string     `json:"clip_id"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedByIP string     `json:"-"`
	UserID      string     `json:"user_id,omitempty"`
}

// Visible reports whether the clip may be returned to readers at the given
// instant: no expiry, or an expiry strictly in the future.
func (c *Clip) Visible(now time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

type CreateParams struct {
	Content  string
	Hours    float64
	ClientIP string
	UserID   string
}
