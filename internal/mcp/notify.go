package mcp

import (
	"context"

	"github.com/hpungsan/dayloom/internal/events"
)

// EventNotification is the method used to push pipeline events to connected clients.
const EventNotification = "notifications/dayloom/event"

// notifyFunc matches server.MCPServer.SendNotificationToAllClients.
type notifyFunc func(method string, params map[string]any)

// forwardEvents relays events to notify until ctx is done or the channel closes.
func forwardEvents(ctx context.Context, feed <-chan events.Event, notify notifyFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if params := eventParams(ev); params != nil {
				notify(EventNotification, params)
			}
		}
	}
}

func eventParams(ev events.Event) map[string]any {
	switch {
	case ev.BatchStatus != nil:
		params := map[string]any{
			"type":     "batch_status_changed",
			"batch_id": ev.BatchStatus.BatchID,
			"status":   string(ev.BatchStatus.Status),
		}
		if ev.BatchStatus.Reason != nil {
			params["reason"] = *ev.BatchStatus.Reason
		}
		return params
	case ev.Timeline != nil:
		return map[string]any{
			"type":    "timeline_changed",
			"day_key": ev.Timeline.DayKey,
		}
	}
	return nil
}
