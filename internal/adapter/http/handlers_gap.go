package http

import (
	"net/http"

	"github.com/meshworks/agentmesh/internal/domain/gap"
)

// ScanGaps runs one gap detection pass and returns the findings.
func (h *Handlers) ScanGaps(w http.ResponseWriter, r *http.Request) {
	gaps, err := h.Gaps.Scan(r.Context())
	if err != nil {
		writeDomainError(w, err, "gap scan failed")
		return
	}
	if gaps == nil {
		gaps = []gap.Gap{}
	}
	writeJSON(w, http.StatusOK, gaps)
}
