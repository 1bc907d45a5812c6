package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/octobridge/octobridge/internal/settings"
)

// Action names a message the daemon understands.
type Action string

const (
	ActionAuthenticate           Action = "authenticate"
	ActionLogout                 Action = "logout"
	ActionGetUser                Action = "getUser"
	ActionGetRepositories        Action = "getRepositories"
	ActionGetIssues              Action = "getIssues"
	ActionGetNotifications       Action = "getNotifications"
	ActionMarkNotificationAsRead Action = "markNotificationAsRead"
	ActionGetSettings            Action = "getSettings"
	ActionSaveSettings           Action = "saveSettings"
	ActionResetSettings          Action = "resetSettings"
	ActionSettingsUpdated        Action = "settingsUpdated"
	ActionClearCache             Action = "clearCache"
	ActionExportData             Action = "exportData"
)

// Actions lists every known action in a stable order.
func Actions() []Action {
	return []Action{
		ActionAuthenticate, ActionLogout, ActionGetUser,
		ActionGetRepositories, ActionGetIssues, ActionGetNotifications, ActionMarkNotificationAsRead,
		ActionGetSettings, ActionSaveSettings, ActionResetSettings, ActionSettingsUpdated,
		ActionClearCache, ActionExportData,
	}
}

// Request is an inbound message: the action plus whichever parameters it takes.
type Request struct {
	Action         Action             `json:"action"`
	NotificationID NotificationID     `json:"notificationId,omitempty"`
	Settings       *settings.Settings `json:"settings,omitempty"`
}

// NotificationID is a notification thread id. Clients send it as a string or a number.
type NotificationID string

func (n *NotificationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NotificationID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("notificationId must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(num.String(), 10, 64); err != nil {
		return fmt.Errorf("notificationId must be an integer, got %s", num)
	}
	*n = NotificationID(num.String())
	return nil
}

// DecodeRequest parses a message body.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}
