package defense

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// metadataPayload is the structured message the preparation workflow
// emits as it discovers the project. Both key spellings seen in the
// wild are accepted, and technologies may arrive as a list or a
// comma-separated string.
type metadataPayload struct {
	Title         string          `json:"title"`
	ProjectTitle  string          `json:"projectTitle"`
	AcademicLevel string          `json:"academicLevel"`
	Technologies  json.RawMessage `json:"technologies"`
	FocusRatio    string          `json:"focusRatio"`
}

// HandleMetadata merges a structured-metadata signal into the session
// record, field by field: only values present in the payload overwrite.
// Malformed payloads are logged and dropped, they never abort the call.
func (c *Controller) HandleMetadata(ctx context.Context, raw []byte) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))
	log := observability.LoggerFromContext(ctx)

	var payload metadataPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn("ignoring malformed metadata payload", "error", err)
		return
	}

	var patch domain.SessionPatch
	var changed []string

	title := strings.TrimSpace(payload.ProjectTitle)
	if title == "" {
		title = strings.TrimSpace(payload.Title)
	}
	if title != "" {
		patch.Title = &title
		changed = append(changed, "title")
	}

	if lvl := strings.TrimSpace(payload.AcademicLevel); lvl != "" {
		level := domain.ParseAcademicLevel(lvl)
		patch.Level = &level
		changed = append(changed, "academic level")
	}

	if tech := parseTechnologies(payload.Technologies); tech != nil {
		patch.Techstack = tech
		changed = append(changed, "technologies")
	}

	if focus := strings.TrimSpace(payload.FocusRatio); focus != "" {
		patch.FocusRatio = &focus
		changed = append(changed, "focus ratio")
	}

	if len(changed) == 0 {
		return
	}

	// Enough metadata to surface the session in listings from now on.
	finalized := true
	patch.Finalized = &finalized

	// The lock is held across the store write so two metadata signals
	// can never interleave their read-then-update cycles.
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessions.UpdatePartial(c.cfg.SessionID, patch); err != nil {
		log.Error("failed to merge session metadata", "error", err)
		return
	}

	c.transcript = append(c.transcript, domain.TranscriptTurn{
		Role:    domain.RoleSystem,
		Content: "Project details updated: " + strings.Join(changed, ", ") + ".",
	})

	log.Info("session metadata merged", "fields", changed)
}

func parseTechnologies(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimAll(list)
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil && strings.TrimSpace(joined) != "" {
		return trimAll(strings.Split(joined, ","))
	}

	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
