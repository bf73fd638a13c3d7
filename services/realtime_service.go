package services

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// RealtimeService broadcasts redemption and scan events over PubNub.
// Publishes are fire-and-forget: door dashboards catch up on the next event
// if one is lost.
type RealtimeService struct {
	pubnub *pubnub.PubNub
	logger *slog.Logger
}

func NewRealtimeService(pn *pubnub.PubNub, logger *slog.Logger) *RealtimeService {
	return &RealtimeService{pubnub: pn, logger: logger}
}

// PublishAttendees pushes the updated attendee count to the party channel.
func (s *RealtimeService) PublishAttendees(_ context.Context, partyID string, current, max int) {
	if s == nil || s.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("party-%s", partyID)
	_, pnStatus, err := s.pubnub.Publish().
		Channel(channel).
		Message(map[string]interface{}{
			"type":      "attendees_updated",
			"party_id":  partyID,
			"attendees": fmt.Sprintf("%d/%d", current, max),
		}).
		Execute()
	if err != nil {
		s.logger.Warn("publish attendees failed", "channel", channel, "error", err)
		return
	}
	if pnStatus.Error != nil {
		s.logger.Warn("publish attendees rejected", "channel", channel, "status", pnStatus.StatusCode, "error", pnStatus.Error)
	}
}

// PublishScan pushes a door scan event to the door channel of the party.
func (s *RealtimeService) PublishScan(_ context.Context, partyID string, payload map[string]any) {
	if s == nil || s.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("door-%s", partyID)
	message := map[string]interface{}{"type": "qr_scanned", "party_id": partyID}
	for k, v := range payload {
		message[k] = v
	}

	_, pnStatus, err := s.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		s.logger.Warn("publish scan failed", "channel", channel, "error", err)
		return
	}
	if pnStatus.Error != nil {
		s.logger.Warn("publish scan rejected", "channel", channel, "status", pnStatus.StatusCode, "error", pnStatus.Error)
	}
}
