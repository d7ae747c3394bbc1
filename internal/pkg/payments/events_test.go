package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvents_BatchedDelivery(t *testing.T) {
	payload := []byte(`{
		"events": [
			{
				"id": "EV001",
				"created_at": "2026-01-15T10:30:00.000Z",
				"resource_type": "payments",
				"action": "confirmed",
				"links": {"payment": "PM123"},
				"details": {"origin": "gocardless", "cause": "payment_confirmed"}
			},
			{
				"id": "EV002",
				"created_at": "2026-01-15T10:31:00.000Z",
				"resource_type": "mandates",
				"action": "active",
				"links": {"mandate": "MD456"}
			}
		]
	}`)

	events, err := ParseEvents("gocardless", payload)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "EV001", events[0].ID)
	assert.Equal(t, "payment", events[0].ResourceType)
	assert.Equal(t, "confirmed", events[0].Action)
	assert.Equal(t, "PM123", events[0].ResourceID)
	assert.Equal(t, 2026, events[0].CreatedAt.Year())
	assert.Equal(t, "payment_confirmed", events[0].Details["cause"])

	assert.Equal(t, "EV002", events[1].ID)
	assert.Equal(t, "mandate", events[1].ResourceType)
	assert.Equal(t, "MD456", events[1].ResourceID)
}

func TestParseEvents_BatchedOrderPreserved(t *testing.T) {
	payload := []byte(`{"events":[
		{"id":"EV1","resource_type":"payments","action":"submitted","links":{"payment":"PM1"}},
		{"id":"EV2","resource_type":"payments","action":"confirmed","links":{"payment":"PM1"}},
		{"id":"EV3","resource_type":"payments","action":"paid_out","links":{"payment":"PM1"}}
	]}`)

	events, err := ParseEvents("gocardless", payload)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "EV1", events[0].ID)
	assert.Equal(t, "EV2", events[1].ID)
	assert.Equal(t, "EV3", events[2].ID)
}

func TestParseEvents_BatchedEmptyArray(t *testing.T) {
	events, err := ParseEvents("gocardless", []byte(`{"events":[]}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseEvents_BatchedMissingEventsArray(t *testing.T) {
	_, err := ParseEvents("gocardless", []byte(`{"meta":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEvents_BatchedEventWithoutID(t *testing.T) {
	_, err := ParseEvents("gocardless", []byte(`{"events":[{"resource_type":"payments","action":"confirmed"}]}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEvents_BatchedNotJSON(t *testing.T) {
	_, err := ParseEvents("gocardless", []byte(`not json at all`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEvents_SingleDelivery(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "payment_intent.succeeded",
		"created": 1768475400,
		"data": {"object": {"id": "pi_789", "object": "payment_intent", "status": "succeeded", "amount": 2500}}
	}`)

	events, err := ParseEvents("stripe", payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, "payment_intent", ev.ResourceType)
	assert.Equal(t, "succeeded", ev.Action)
	assert.Equal(t, "pi_789", ev.ResourceID)
	assert.Equal(t, time.Unix(1768475400, 0).UTC(), ev.CreatedAt)
	assert.Equal(t, "succeeded", ev.Details["status"])
}

func TestParseEvents_SingleDottedActionKeepsRemainder(t *testing.T) {
	payload := []byte(`{
		"id": "evt_124",
		"type": "invoice.payment_failed",
		"created": 1768475400,
		"data": {"object": {"id": "in_55", "object": "invoice"}}
	}`)

	events, err := ParseEvents("stripe", payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "invoice", events[0].ResourceType)
	assert.Equal(t, "payment_failed", events[0].Action)
}

func TestParseEvents_SingleMissingID(t *testing.T) {
	_, err := ParseEvents("stripe", []byte(`{"type":"payment_intent.succeeded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEvents_GenericFallback(t *testing.T) {
	payload := []byte(`{
		"event_id": "gen-1",
		"type": "payment",
		"action": "confirmed",
		"resource_id": "pay-9",
		"created_at": "2026-02-01T08:00:00Z"
	}`)

	events, err := ParseEvents("somepay", payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gen-1", events[0].ID)
	assert.Equal(t, "payment", events[0].ResourceType)
	assert.Equal(t, "confirmed", events[0].Action)
	assert.Equal(t, "pay-9", events[0].ResourceID)
}

func TestExtractEventID(t *testing.T) {
	assert.Equal(t, "EV1", ExtractEventID("gocardless", []byte(`{"events":[{"id":"EV1"},{"id":"EV2"}]}`)))
	assert.Equal(t, "evt_9", ExtractEventID("stripe", []byte(`{"id":"evt_9"}`)))
	assert.Equal(t, "gen-1", ExtractEventID("somepay", []byte(`{"event_id":"gen-1"}`)))
	assert.Equal(t, "", ExtractEventID("gocardless", []byte(`{"events":[]}`)))
	assert.Equal(t, "", ExtractEventID("stripe", []byte(`garbage`)))
}

func TestSingularize(t *testing.T) {
	cases := map[string]string{
		"payments":      "payment",
		"mandates":      "mandate",
		"refunds":       "refund",
		"subscriptions": "subscription",
		"entries":       "entry",
		"statuses":      "status",
		"mandate":       "mandate",
	}
	for plural, singular := range cases {
		assert.Equal(t, singular, singularize(plural), plural)
	}
}
