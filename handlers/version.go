package handlers

import (
	"net/http"
	"os"
	"strings"
	"sync"
)

// version is stamped at build time with
// -ldflags "-X geekcatalog/handlers.version=...". When empty it is read from
// version.txt.
var (
	version     string
	versionOnce sync.Once
)

var versionFiles = []string{"version.txt", "/app/version.txt"}

type VersionResponse struct {
	Version string `json:"version"`
}

// Version reports the build version, "unknown" when none is available.
func Version() string {
	versionOnce.Do(func() {
		if version != "" {
			return
		}
		for _, path := range versionFiles {
			data, err := os.ReadFile(path)
			if err == nil {
				if v := strings.TrimSpace(string(data)); v != "" {
					version = v
					return
				}
			}
		}
		version = "unknown"
	})
	return version
}

// GetVersion handles GET /version.
func GetVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: Version()})
}
