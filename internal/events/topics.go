package events

// Topics published by the engine. Payload types are noted per topic.
const (
	// connstate.State
	TopicConnectionState Topic = "connection.state"
	// int, the current reconnect attempt
	TopicConnectionAttempt Topic = "connection.attempt"
	// error, published once and terminal
	TopicAuthFailed Topic = "connection.auth-failed"

	// roomprops.Properties
	TopicRoomProperties Topic = "room.properties"
	// string, empty when no host
	TopicHost Topic = "room.host"
	// bool
	TopicGridMode Topic = "room.grid-mode"
	// string, empty when nobody is followed
	TopicFollow Topic = "room.follow"
	// bool
	TopicGather Topic = "room.gather"
	// json.RawMessage, nil when cleared
	TopicDrawing Topic = "room.drawing"
	// roomprops.TranscriptState
	TopicTranscript Topic = "room.transcript"
	// *transport.PresenceRecord, the kick request as carried on the wire
	TopicKickRequest Topic = "room.kick"
	// transport.PresenceRecord, the local participant was kicked
	TopicKicked Topic = "room.kicked"

	// []transport.PresenceRecord
	TopicParticipants Topic = "presence.participants"
	// transport.PresenceMessage; use Scoped(TopicPresenceUpdate, id) for one participant
	TopicPresenceUpdate Topic = "presence.update"
	// slots.Slot
	TopicSlot Topic = "slot.assigned"
)
