package handlers

import (
	"net/http"

	"github.com/sagebionetworks/burstd/buildinfo"
)

// HandleVersion reports the build properties of the running binary.
func HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}
