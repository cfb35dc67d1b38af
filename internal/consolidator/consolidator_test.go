package consolidator

import "testing"

func TestDeepMergeAsterisk(t *testing.T) {
	existing := map[string]interface{}{
		"trunks": map[string]interface{}{
			"trunk-a": map[string]interface{}{"registered": true},
		},
		"summary": "ok",
	}
	incoming := map[string]interface{}{
		"trunks": map[string]interface{}{
			"trunk-b": map[string]interface{}{"registered": false},
		},
		"summary": "degraded",
	}

	merged := deepMergeAsterisk(existing, incoming)

	trunks, ok := merged["trunks"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected trunks map, got %T", merged["trunks"])
	}
	if _, ok := trunks["trunk-a"]; !ok {
		t.Error("expected trunk-a to survive the merge")
	}
	if _, ok := trunks["trunk-b"]; !ok {
		t.Error("expected trunk-b to be added by the merge")
	}
	if merged["summary"] != "degraded" {
		t.Errorf("expected summary to take the latest value, got %v", merged["summary"])
	}
}

func TestDeepMergeAsteriskNoIncomingTrunks(t *testing.T) {
	existing := map[string]interface{}{
		"trunks": map[string]interface{}{
			"trunk-a": map[string]interface{}{"registered": true},
		},
	}
	incoming := map[string]interface{}{
		"summary": "ok",
	}

	merged := deepMergeAsterisk(existing, incoming)

	trunks, ok := merged["trunks"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected trunks map to survive when incoming has none, got %T", merged["trunks"])
	}
	if _, ok := trunks["trunk-a"]; !ok {
		t.Error("expected trunk-a to survive when incoming payload carries no trunks")
	}
}
