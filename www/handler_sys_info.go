package www

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

type SysInfo struct {
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	StartedAt time.Time `json:"started_at"`
}

func NewSysInfo(version string) SysInfo {
	return SysInfo{Version: version, GoVersion: runtime.Version(), StartedAt: time.Now().UTC()}
}

func NewSysInfoHandler(logger *slog.Logger, sysInfo SysInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, struct {
			SysInfo
			Uptime string `json:"uptime"`
		}{sysInfo, time.Since(sysInfo.StartedAt).Round(time.Second).String()})
	}
}
