package domain

import "encoding/json"

// Wire classes of the bus message envelope.
const (
	ClassNumberedMessage = "NumberedMessage"
	ClassBulkMessage     = "BulkMessage"

	ClassParticipantJoin  = "ConferenceSessionParticipantJoinEvent"
	ClassParticipantLeave = "ConferenceSessionParticipantLeaveEvent"
	ClassMediaStream      = "MediaRoomStreamChangedEvent"
)

type EventKind int

const (
	EventUnclassified EventKind = iota
	EventParticipantJoined
	EventParticipantLeft
	EventMediaStreamChanged
)

func (k EventKind) String() string {
	switch k {
	case EventParticipantJoined:
		return "participant-joined"
	case EventParticipantLeft:
		return "participant-left"
	case EventMediaStreamChanged:
		return "media-stream-changed"
	}
	return "unclassified"
}

// Participant is the descriptor carried by join events and media-info
// responses.
type Participant struct {
	ID               string
	ProfileID        string
	Name             string
	AvatarResourceID string
	Roles            []string
	Registered       bool
	MediaState       string
	Demonstration    string
}

// Event is one conference event delivered off the bus. Immutable once
// decoded; consumed synchronously by subscribers and discarded.
type Event struct {
	Kind     EventKind
	Class    string
	Sequence int64
	BusID    string

	ParticipantID string
	LeaveReason   string
	StreamType    string
	MediaState    string
	Participant   *Participant

	Raw json.RawMessage
}

// Envelope is the outer shape of a bus message. NumberedMessage without an
// inner message is the sync marker; with one, a single event. BulkMessage
// wraps an ordered batch.
type Envelope struct {
	Class    string            `json:"_class"`
	Sequence int64             `json:"sequenceNumber"`
	Message  json.RawMessage   `json:"message,omitempty"`
	Events   []json.RawMessage `json:"events,omitempty"`
}

func DecodeEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	return env, env.Class != ""
}

type wireStreamInfo struct {
	State string `json:"state"`
}

type wireWebMediaInfo struct {
	SpeakerStreamInfo     *wireStreamInfo `json:"speakerStreamInfo"`
	ScreenShareStreamInfo *wireStreamInfo `json:"screenShareStreamInfo"`
}

type wireParticipant struct {
	ParticipantID    string            `json:"participantId"`
	ProfileID        string            `json:"profileId"`
	Name             string            `json:"name"`
	AvatarResourceID string            `json:"avatarResourceId"`
	Roles            []string          `json:"roles"`
	IsRegisteredUser *bool             `json:"isRegisteredUser"`
	MediaState       string            `json:"mediaState"`
	WebMediaInfo     *wireWebMediaInfo `json:"webMediaInfo"`
}

func (w *wireParticipant) toParticipant() *Participant {
	p := &Participant{
		ID:               w.ParticipantID,
		ProfileID:        w.ProfileID,
		Name:             w.Name,
		AvatarResourceID: w.AvatarResourceID,
		Roles:            w.Roles,
		Registered:       true,
		MediaState:       w.MediaState,
	}
	if w.IsRegisteredUser != nil {
		p.Registered = *w.IsRegisteredUser
	}
	if p.ProfileID == "" {
		p.ProfileID = w.ParticipantID
	}
	if w.WebMediaInfo != nil {
		if s := w.WebMediaInfo.SpeakerStreamInfo; s != nil && s.State != "" {
			p.MediaState = s.State
		}
		if s := w.WebMediaInfo.ScreenShareStreamInfo; s != nil && s.State != "" && s.State != "NONE" {
			p.Demonstration = "SCREEN_SHARE"
		}
	}
	if p.MediaState == "" {
		p.MediaState = "NONE"
	}
	return p
}

type wireEvent struct {
	Class         string           `json:"_class"`
	ParticipantID string           `json:"participantId"`
	ID            string           `json:"id"`
	LeaveReason   string           `json:"leaveReason"`
	StreamType    string           `json:"streamType"`
	MediaState    string           `json:"mediaState"`
	Participant   *wireParticipant `json:"participant"`
}

// DecodeEvent classifies one inner event payload. Unrecognized classes come
// back as EventUnclassified with the raw payload preserved; a payload that is
// not even JSON returns ok=false.
func DecodeEvent(raw json.RawMessage) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, false
	}

	ev := Event{Class: w.Class, Raw: raw}
	pid := w.ParticipantID
	if pid == "" {
		pid = w.ID
	}

	switch w.Class {
	case ClassParticipantJoin:
		ev.Kind = EventParticipantJoined
		ev.ParticipantID = pid
		if w.Participant != nil {
			ev.Participant = w.Participant.toParticipant()
			if ev.Participant.ID != "" {
				ev.ParticipantID = ev.Participant.ID
			}
		}
	case ClassParticipantLeave:
		ev.Kind = EventParticipantLeft
		ev.ParticipantID = pid
		ev.LeaveReason = w.LeaveReason
	case ClassMediaStream:
		ev.Kind = EventMediaStreamChanged
		ev.ParticipantID = pid
		ev.StreamType = w.StreamType
		ev.MediaState = w.MediaState
	default:
		ev.Kind = EventUnclassified
		ev.ParticipantID = pid
	}
	return ev, true
}
