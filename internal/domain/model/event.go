// Package model contains domain models passed between layers.
package model

import "time"

// Kind identifies the user action a stat event counts.
type Kind string

// Stat event kinds.
const (
	KindDownload          Kind = "download"
	KindStar              Kind = "star"
	KindUnstar            Kind = "unstar"
	KindInstallNew        Kind = "install_new"        // first install by this user
	KindInstallReactivate Kind = "install_reactivate" // re-added after removal
	KindInstallDeactivate Kind = "install_deactivate" // removed from all projects
	KindInstallClear      Kind = "install_clear"      // telemetry cleared; carries Delta
)

// Kinds lists every valid kind.
var Kinds = []Kind{
	KindDownload,
	KindStar,
	KindUnstar,
	KindInstallNew,
	KindInstallReactivate,
	KindInstallDeactivate,
	KindInstallClear,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// InstallDelta is the explicit install adjustment carried by install_clear events.
type InstallDelta struct {
	AllTime int64 `json:"all_time" bson:"all_time"`
	Current int64 `json:"current" bson:"current"`
}

// StatEvent is an immutable record of one countable action. The only mutation
// ever applied is ProcessedAt going from nil to a timestamp.
type StatEvent struct {
	ID          string
	SkillID     string
	Kind        Kind
	Delta       *InstallDelta // install_clear only
	OccurredAt  time.Time
	ProcessedAt *time.Time
}

// Processed reports whether the batch processor has consumed the event.
func (e StatEvent) Processed() bool { return e.ProcessedAt != nil }
