package api

import "fmt"

func validateSyncEvent(req SyncEventRequest) error {
	if req.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	if req.Action == "" {
		return fmt.Errorf("action is required")
	}
	if req.Action != ActionCreated && req.Action != ActionUpdated {
		return fmt.Errorf("action must be %q or %q, got %q", ActionCreated, ActionUpdated, req.Action)
	}

	return nil
}
