package dryrun

import (
	"maps"
	"time"

	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// builtinPayloads are synthetic payloads for well-known trigger kinds.
var builtinPayloads = map[string]func(now time.Time) map[string]interface{}{
	"webhook": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"method":      "POST",
			"headers":     map[string]interface{}{"content-type": "application/json"},
			"body":        map[string]interface{}{"event": "sample.created", "id": "evt_mock_001"},
			"received_at": now.Format(time.RFC3339),
		}
	},
	"schedule": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"scheduled_at": now.Format(time.RFC3339),
			"cron":         "0 * * * *",
			"timezone":     "UTC",
		}
	},
	"form_submission": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"form_id":      "form_mock_001",
			"submitted_at": now.Format(time.RFC3339),
			"fields": map[string]interface{}{
				"name":    "Jane Doe",
				"email":   "jane.doe@example.com",
				"message": "Hello from a simulated form",
			},
		}
	},
	"email_received": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"from":        "sender@example.com",
			"to":          []interface{}{"inbox@example.com"},
			"subject":     "Simulated inbound email",
			"body":        "This message was generated for a dry run.",
			"received_at": now.Format(time.RFC3339),
		}
	},
	"order_created": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"order_id": "ord_mock_001",
			"customer": map[string]interface{}{"id": "cus_mock_001", "email": "customer@example.com"},
			"items": []interface{}{
				map[string]interface{}{"sku": "SKU-001", "quantity": 2, "price": 19.99},
			},
			"total":      39.98,
			"currency":   "USD",
			"created_at": now.Format(time.RFC3339),
		}
	},
	"user_signup": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"user_id":    "usr_mock_001",
			"email":      "new.user@example.com",
			"name":       "New User",
			"plan":       "free",
			"created_at": now.Format(time.RFC3339),
		}
	},
	"manual": func(now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"triggered_by": "dry-run",
			"triggered_at": now.Format(time.RFC3339),
		}
	},
}

// SyntheticPayload returns a payload appropriate to the trigger key: the
// registered trigger's sample payload first, then a built-in shape, then a
// generic placeholder.
func SyntheticPayload(catalog *registry.Catalog, triggerKey string, now time.Time) map[string]interface{} {
	if catalog != nil {
		if def, err := catalog.Trigger(triggerKey); err == nil && len(def.SamplePayload) > 0 {
			return maps.Clone(def.SamplePayload)
		}
	}
	if gen, ok := builtinPayloads[triggerKey]; ok {
		return gen(now.UTC())
	}
	return map[string]interface{}{
		"_mockTrigger": true,
		"triggerKey":   triggerKey,
		"timestamp":    now.UTC().Format(time.RFC3339),
	}
}
