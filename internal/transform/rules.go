// Package transform implements operational transformation for concurrent
// board edits. Two operations interact only when they target the same
// element; everything else passes through untouched, which keeps conflict
// resolution local to one element rather than global to the board.
package transform

import (
	"github.com/haasonsaas/boardsync/pkg/models"
)

// TransformAgainst adjusts client to account for server, an operation already
// accepted ahead of it. Returns the adjusted operation and whether anything
// changed. The same rules run server-side against history and client-side
// against the outbound queue, so both ends converge on one serialization.
func TransformAgainst(client, server models.Operation) (models.Operation, bool) {
	if !candidates(client, server) {
		return client, false
	}

	// Deletion always wins over a concurrent modification. There are no
	// resurrect semantics: whatever the client intended, the element is gone.
	if server.Type == models.OpDelete {
		out := client
		out.Type = models.OpDelete
		out.Data = nil
		return out, true
	}

	switch {
	case client.Type == models.OpMove && server.Type == models.OpMove:
		return transformMove(client, server)
	case client.Type == models.OpResize && server.Type == models.OpResize:
		return transformResize(client, server)
	case client.Type == models.OpUpdate && server.Type == models.OpUpdate,
		client.Type == models.OpStyle && server.Type == models.OpStyle:
		return mergeFields(client, server), true
	default:
		return client, false
	}
}

// candidates reports whether two operations can interact: same element,
// distinct operations. Matching is by explicit id comparison, never by
// reference. Creates carry the new element inside data and have no
// ElementID, so they never transform against anything.
func candidates(client, server models.Operation) bool {
	if client.ID == server.ID {
		return false
	}
	if client.ElementID == "" || server.ElementID == "" {
		return false
	}
	return client.ElementID == server.ElementID
}

// transformMove composes two concurrent drags additively. The client's delta
// (current minus original anchor) is re-based onto the server's resulting
// position: result = serverPos + clientDelta.
func transformMove(client, server models.Operation) (models.Operation, bool) {
	cx, okCX := client.DataNumber("x")
	cy, okCY := client.DataNumber("y")
	cox, okCOX := client.DataNumber("originalX")
	coy, okCOY := client.DataNumber("originalY")
	sx, okSX := server.DataNumber("x")
	sy, okSY := server.DataNumber("y")
	if !okCX || !okCY || !okCOX || !okCOY || !okSX || !okSY {
		return client, false
	}

	out := client
	data := client.CloneData()
	data["x"] = sx + (cx - cox)
	data["y"] = sy + (cy - coy)
	// Re-anchor so further folds against later server moves stay additive.
	data["originalX"] = sx
	data["originalY"] = sy
	out.Data = data
	return out, true
}

// transformResize composes concurrent resizes multiplicatively: the client's
// scale factor (current over original size) is applied to the server's
// resulting dimensions.
func transformResize(client, server models.Operation) (models.Operation, bool) {
	cw, okCW := client.DataNumber("width")
	ch, okCH := client.DataNumber("height")
	cow, okCOW := client.DataNumber("originalWidth")
	coh, okCOH := client.DataNumber("originalHeight")
	sw, okSW := server.DataNumber("width")
	sh, okSH := server.DataNumber("height")
	if !okCW || !okCH || !okCOW || !okCOH || !okSW || !okSH {
		return client, false
	}
	if cow == 0 || coh == 0 {
		return client, false
	}

	out := client
	data := client.CloneData()
	data["width"] = sw * (cw / cow)
	data["height"] = sh * (ch / coh)
	data["originalWidth"] = sw
	data["originalHeight"] = sh
	out.Data = data
	return out, true
}

// mergeFields shallow-merges payloads with the server's fields as base and
// the client's overlaid: last writer wins per field, non-overlapping fields
// from both sides survive.
func mergeFields(client, server models.Operation) models.Operation {
	merged := server.CloneData()
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range client.Data {
		merged[k] = v
	}
	out := client
	out.Data = merged
	return out
}
