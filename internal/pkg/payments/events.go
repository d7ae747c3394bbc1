package payments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clubpilot/ClubPilot/app/models"
)

// ParseEvents converts a provider's raw webhook payload into the canonical
// ordered event sequence. Providers without a dedicated parser fall through
// to a best-effort generic mapping over common field conventions.
func ParseEvents(provider string, payload []byte) ([]NormalizedEvent, error) {
	switch provider {
	case models.PaymentProviderGoCardless:
		return parseBatchedEvents(payload)
	case models.PaymentProviderStripe:
		return parseSingleEvent(payload)
	default:
		return parseGenericEvent(payload)
	}
}

// ExtractEventID retrieves the first event id of a delivery without full
// normalization, for a cheap idempotency pre-check. Returns "" when the id is
// not directly retrievable.
func ExtractEventID(provider string, payload []byte) string {
	switch provider {
	case models.PaymentProviderGoCardless:
		var body struct {
			Events []struct {
				ID string `json:"id"`
			} `json:"events"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || len(body.Events) == 0 {
			return ""
		}
		return strings.TrimSpace(body.Events[0].ID)
	default:
		var body struct {
			ID      string `json:"id"`
			EventID string `json:"event_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return ""
		}
		if id := strings.TrimSpace(body.ID); id != "" {
			return id
		}
		return strings.TrimSpace(body.EventID)
	}
}

// soleEventID returns the delivery's event id only when the delivery carries
// exactly one event. A batched delivery with several events returns "" so
// that a whole-delivery skip can never drop unprocessed siblings.
func soleEventID(provider string, payload []byte) string {
	if provider == models.PaymentProviderGoCardless {
		var body struct {
			Events []struct {
				ID string `json:"id"`
			} `json:"events"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || len(body.Events) != 1 {
			return ""
		}
		return strings.TrimSpace(body.Events[0].ID)
	}
	return ExtractEventID(provider, payload)
}

// parseBatchedEvents handles the GoCardless shape: one delivery carries a
// batch of events, each linking its resource under a key derived from the
// resource type.
func parseBatchedEvents(payload []byte) ([]NormalizedEvent, error) {
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.Events == nil {
		return nil, fmt.Errorf("%w: missing events array", ErrMalformedPayload)
	}

	events := make([]NormalizedEvent, 0, len(body.Events))
	for _, raw := range body.Events {
		var ev struct {
			ID           string                 `json:"id"`
			CreatedAt    string                 `json:"created_at"`
			ResourceType string                 `json:"resource_type"`
			Action       string                 `json:"action"`
			Links        map[string]string      `json:"links"`
			Details      map[string]interface{} `json:"details"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if strings.TrimSpace(ev.ID) == "" {
			return nil, fmt.Errorf("%w: event missing id", ErrMalformedPayload)
		}

		// The envelope pluralizes the resource type ("payments") while the
		// links map keys the singular form ("payment"). Try the singular
		// first, fall back to the pluralized key.
		resourceID := ev.Links[singularize(ev.ResourceType)]
		if resourceID == "" {
			resourceID = ev.Links[ev.ResourceType]
		}

		events = append(events, NormalizedEvent{
			ID:           ev.ID,
			ResourceType: singularize(ev.ResourceType),
			Action:       ev.Action,
			ResourceID:   resourceID,
			CreatedAt:    parseEventTime(ev.CreatedAt),
			Details:      ev.Details,
			Raw:          raw,
		})
	}
	return events, nil
}

// parseSingleEvent handles the Stripe shape: exactly one event per delivery,
// with a dotted event type ("payment_intent.succeeded") and the resource
// under data.object.
func parseSingleEvent(payload []byte) ([]NormalizedEvent, error) {
	var ev struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object map[string]interface{} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Type) == "" {
		return nil, fmt.Errorf("%w: event missing id or type", ErrMalformedPayload)
	}

	// "invoice.payment_failed" → resource "invoice", action "payment_failed".
	resourceType, action, found := strings.Cut(ev.Type, ".")
	if !found {
		action = ev.Type
	}
	// An explicit object type on the resource wins over the type prefix.
	if objectType, ok := ev.Data.Object["object"].(string); ok && objectType != "" {
		resourceType = objectType
	}

	resourceID, _ := ev.Data.Object["id"].(string)
	var createdAt time.Time
	if ev.Created > 0 {
		createdAt = time.Unix(ev.Created, 0).UTC()
	}

	return []NormalizedEvent{{
		ID:           ev.ID,
		ResourceType: resourceType,
		Action:       action,
		ResourceID:   resourceID,
		CreatedAt:    createdAt,
		Details:      ev.Data.Object,
		Raw:          json.RawMessage(payload),
	}}, nil
}

// parseGenericEvent maps unlisted providers over the most common field name
// conventions.
func parseGenericEvent(payload []byte) ([]NormalizedEvent, error) {
	var ev struct {
		ID           string                 `json:"id"`
		EventID      string                 `json:"event_id"`
		ResourceType string                 `json:"resource_type"`
		Type         string                 `json:"type"`
		Action       string                 `json:"action"`
		ResourceID   string                 `json:"resource_id"`
		CreatedAt    string                 `json:"created_at"`
		Details      map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	id := strings.TrimSpace(ev.ID)
	if id == "" {
		id = strings.TrimSpace(ev.EventID)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: event missing id", ErrMalformedPayload)
	}

	resourceType := ev.ResourceType
	if resourceType == "" {
		resourceType = ev.Type
	}

	return []NormalizedEvent{{
		ID:           id,
		ResourceType: resourceType,
		Action:       ev.Action,
		ResourceID:   ev.ResourceID,
		CreatedAt:    parseEventTime(ev.CreatedAt),
		Details:      ev.Details,
		Raw:          json.RawMessage(payload),
	}}, nil
}

func parseEventTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", value); err == nil {
		return t
	}
	return time.Time{}
}

// singularize reduces a pluralized resource type name to its singular form
// for link lookups ("payments" → "payment", "entries" → "entry").
func singularize(resourceType string) string {
	switch {
	case strings.HasSuffix(resourceType, "ies"):
		return strings.TrimSuffix(resourceType, "ies") + "y"
	case strings.HasSuffix(resourceType, "ses"):
		return strings.TrimSuffix(resourceType, "es")
	case strings.HasSuffix(resourceType, "s") && !strings.HasSuffix(resourceType, "ss"):
		return strings.TrimSuffix(resourceType, "s")
	default:
		return resourceType
	}
}
