// Package profile maintains per-user risk profiles for the tuition platform.
//
// A profile is an append-only list of timestamped, weighted risk factors plus
// a derived score in [0, 100]. Recent factors count more than old ones (half-life
// decay) and factors older than the decay window stop contributing to the active
// score entirely, while remaining on the record for audit. Profiles are created
// lazily on first use and never deleted.
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrProfileNotFound is returned by stores for unknown users.
// Callers normally go through Manager.Get, which creates the profile instead.
var ErrProfileNotFound = errors.New("profile: not found")

// Level is the coarse risk band derived from a profile score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Bands holds the score cutpoints separating risk levels.
// A score strictly below Low is "low", below Medium "medium", below High
// "high", and everything at or above High is "critical".
type Bands struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultBands returns the platform default cutpoints.
func DefaultBands() Bands {
	return Bands{Low: 25, Medium: 50, High: 75}
}

// Level maps a score to its band. Pure function of the score.
func (b Bands) Level(score float64) Level {
	switch {
	case score < b.Low:
		return LevelLow
	case score < b.Medium:
		return LevelMedium
	case score < b.High:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Factor is a single weighted contribution to a user's risk score.
// Weight is in score points; negative weights reduce risk.
type Factor struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`   // e.g. "transaction_risk", "confirmed_fraud", "velocity_override"
	Weight         float64   `json:"weight"` // current contribution in score points
	OriginalWeight float64   `json:"originalWeight,omitempty"` // set when the factor has been down-weighted
	Source         string    `json:"source,omitempty"`         // originating transaction or alert ID
	CreatedAt      time.Time `json:"createdAt"`
}

// Downweighted reports whether this factor has been adjusted after an
// investigation (e.g. false positive).
func (f *Factor) Downweighted() bool {
	return f.OriginalWeight != 0
}

// RiskProfile is the aggregate risk state for one user.
type RiskProfile struct {
	UserID    string    `json:"userId"`
	Score     float64   `json:"riskScore"` // always in [0, 100]
	Level     Level     `json:"riskLevel"`
	Factors   []Factor  `json:"factors"` // oldest first, full audit history
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists risk profiles.
type Store interface {
	Get(ctx context.Context, userID string) (*RiskProfile, error)
	Save(ctx context.Context, p *RiskProfile) error
	ListTop(ctx context.Context, limit int) ([]*RiskProfile, error)
}
