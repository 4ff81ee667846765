package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
)

func TestDispatcherDeliversSingleMessage(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	var got []domain.Event
	d.Subscribe(func(ev domain.Event) { got = append(got, ev) })

	d.Dispatch("bus-1", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":3,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1","leaveReason":"HANGUP"}}`))

	require.Len(t, got, 1)
	require.Equal(t, domain.EventParticipantLeft, got[0].Kind)
	require.Equal(t, "p1", got[0].ParticipantID)
	require.EqualValues(t, 3, got[0].Sequence)
	require.Equal(t, "bus-1", got[0].BusID)
}

func TestDispatcherBulkPreservesOrder(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	var ids []string
	d.Subscribe(func(ev domain.Event) { ids = append(ids, ev.ParticipantID) })

	d.Dispatch("bus-1", core.Frame(`{"_class":"BulkMessage","events":[
		{"_class":"MediaRoomStreamChangedEvent","participantId":"a"},
		{"_class":"MediaRoomStreamChangedEvent","participantId":"b"},
		{"_class":"MediaRoomStreamChangedEvent","participantId":"c"}]}`))

	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestDispatcherSyncMarkerDeliversNothing(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	calls := 0
	d.Subscribe(func(domain.Event) { calls++ })

	d.Dispatch("bus-1", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":1}`))
	require.Zero(t, calls)
}

func TestDispatcherDropsStaleBusFrames(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-2")

	calls := 0
	d.Subscribe(func(domain.Event) { calls++ })

	// In-flight frame from the pre-reconnect bus must not leak through.
	d.Dispatch("bus-1", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":1,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1"}}`))
	require.Zero(t, calls)

	d.Dispatch("bus-2", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":1,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1"}}`))
	require.Equal(t, 1, calls)
}

func TestDispatcherDropsMalformedPayloads(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	calls := 0
	d.Subscribe(func(domain.Event) { calls++ })

	d.Dispatch("bus-1", core.Frame("not json"))
	d.Dispatch("bus-1", core.Frame(`{"_class":"SomethingElse"}`))
	require.Zero(t, calls)
}

func TestDispatcherIsolatesPanickingSubscriber(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	var survived bool
	d.Subscribe(func(domain.Event) { panic("boom") })
	d.Subscribe(func(domain.Event) { survived = true })

	d.Dispatch("bus-1", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":1,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1"}}`))
	require.True(t, survived)
}

func TestDispatcherSubscriptionsSurviveBusReset(t *testing.T) {
	d := NewDispatcher()
	d.ResetBus("bus-1")

	calls := 0
	cancel := d.Subscribe(func(domain.Event) { calls++ })

	d.ResetBus("bus-2")
	d.Dispatch("bus-2", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":1,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1"}}`))
	require.Equal(t, 1, calls)

	cancel()
	d.Dispatch("bus-2", core.Frame(`{"_class":"NumberedMessage","sequenceNumber":2,"message":{"_class":"ConferenceSessionParticipantLeaveEvent","participantId":"p1"}}`))
	require.Equal(t, 1, calls)
}
