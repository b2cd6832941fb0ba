// Package resolver decides conflicts between local and remote versions of
// an entity. Resolution is total and deterministic: every conflict yields
// exactly one of local, remote or merged.
package resolver

import (
	"encoding/json"
	"time"

	jsonmerge "github.com/apapsch/go-jsonmerge/v2"

	"github.com/pvworks/floorsync/pkg/models"
)

// Strategy is the side a conflict is resolved to.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	StrategyMerged Strategy = "merged"
)

// Resolution is the decision for one conflict.
type Resolution struct {
	Strategy     Strategy
	ResolvedData map[string]any
}

// Resolve applies the resolution rules:
//   - deletion: remote wins, remote existence is authoritative;
//   - version: the higher version counter wins, equal versions fall back to
//     the later updatedAt;
//   - concurrent-edit on a safety-relevant entity: the later updatedAt wins
//     regardless of version, so safety data is never silently stale;
//   - concurrent-edit otherwise: local field edits merged over the remote
//     base document.
//
// Ties resolve to remote, the authoritative side.
func Resolve(conflict models.ConflictRecord, item models.SyncQueueItem, safetyRelevant bool) Resolution {
	local := conflict.LocalData
	remote := conflict.RemoteData

	switch conflict.ConflictType {
	case models.ConflictDeletion:
		return Resolution{Strategy: StrategyRemote, ResolvedData: remote}

	case models.ConflictVersion:
		lv, lok := version(local)
		rv, rok := version(remote)
		if lok && rok && lv != rv {
			if lv > rv {
				return Resolution{Strategy: StrategyLocal, ResolvedData: local}
			}
			return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
		}
		return byUpdatedAt(local, remote)

	default: // concurrent-edit
		if safetyRelevant {
			return byUpdatedAt(local, remote)
		}
		return merge(local, remote)
	}
}

func byUpdatedAt(local, remote map[string]any) Resolution {
	if updatedAt(local).After(updatedAt(remote)) {
		return Resolution{Strategy: StrategyLocal, ResolvedData: local}
	}
	return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
}

// merge overlays the local edits on the remote base document. A merge that
// cannot be computed falls back to remote so the result stays deterministic.
func merge(local, remote map[string]any) Resolution {
	base, err := json.Marshal(remote)
	if err != nil {
		return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
	}
	patch, err := json.Marshal(local)
	if err != nil {
		return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
	}
	merger := jsonmerge.Merger{CopyNonexistent: true}
	mergedBuff, err := merger.MergeBytes(base, patch)
	if err != nil {
		return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
	}
	var merged map[string]any
	if err := json.Unmarshal(mergedBuff, &merged); err != nil {
		return Resolution{Strategy: StrategyRemote, ResolvedData: remote}
	}
	return Resolution{Strategy: StrategyMerged, ResolvedData: merged}
}

// version reads a monotonically increasing version counter from a document.
func version(doc map[string]any) (float64, bool) {
	switch v := doc["version"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// updatedAt reads the modification timestamp; a missing or unparseable
// value sorts earliest.
func updatedAt(doc map[string]any) time.Time {
	for _, key := range []string{"updatedAt", "updated_at"} {
		switch v := doc[key].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		case time.Time:
			return v
		}
	}
	return time.Time{}
}
