// Package notify holds the supplemented notification sinks of
// SPEC_FULL.md 12: a desktop toast on terminal agent state, and an
// optional embedded-NATS transport for the completion callback alongside
// the HTTP POST spec 6 already requires.
//
// Desktop notifier grounded on the teacher's internal/notifications/toast.go
// ToastNotifier (AppID/dashboard-URL shape, Windows-only, go-toast/toast).
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// Desktop shows a native toast on terminal agent state. Disabled by
// default (SPEC_FULL.md 11); a no-op returning an error on any platform
// other than Windows, matching the teacher's ToastNotifier contract.
type Desktop struct {
	appID        string
	dashboardURL string
	enabled      bool
}

// NewDesktop builds a Desktop notifier. enabled gates every call to
// Notify; appID/dashboardURL default the way NewToastNotifierWithURL does.
func NewDesktop(appID, dashboardURL string, enabled bool) *Desktop {
	if appID == "" {
		appID = "agentctl"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &Desktop{appID: appID, dashboardURL: dashboardURL, enabled: enabled}
}

// Notify shows title/message as a toast if enabled and on Windows.
func (d *Desktop) Notify(title, message string) error {
	if !d.enabled {
		return nil
	}
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}
	notification := toast.Notification{
		AppID:   d.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: d.dashboardURL},
		},
	}
	return notification.Push()
}
