package graph

import "testing"

func overrideDoc() Document {
	return Document{
		"5": map[string]any{
			"class_type": "KSampler",
			"inputs":     map[string]any{"steps": float64(20), "cfg": float64(7)},
		},
		"7": map[string]any{
			"class_type": "CLIPTextEncode",
			"_meta":      map[string]any{"title": "Positive Prompt"},
			"inputs":     map[string]any{"text": "old"},
		},
		"8": map[string]any{
			"class_type": "CLIPTextEncode",
			"_meta":      map[string]any{"title": "Positive Prompt"},
			"inputs":     map[string]any{"text": "old"},
		},
	}
}

func nodeInputs(t *testing.T, doc Document, id string) map[string]any {
	t.Helper()
	inputs, ok := doc[id].(map[string]any)["inputs"].(map[string]any)
	if !ok {
		t.Fatalf("node %s has no inputs map", id)
	}
	return inputs
}

func TestApplyFieldOverrides_ByID(t *testing.T) {
	doc := overrideDoc()
	ApplyFieldOverrides(doc, "id:5", map[string]any{"steps": float64(30)})

	inputs := nodeInputs(t, doc, "5")
	if inputs["steps"] != float64(30) {
		t.Fatalf("steps = %v, want 30", inputs["steps"])
	}
	if inputs["cfg"] != float64(7) {
		t.Fatalf("untouched field lost: cfg = %v", inputs["cfg"])
	}
}

func TestApplyFieldOverrides_ByTitleHitsAllMatches(t *testing.T) {
	doc := overrideDoc()
	ApplyFieldOverrides(doc, "Positive Prompt", map[string]any{"text": "new"})

	for _, id := range []string{"7", "8"} {
		if got := nodeInputs(t, doc, id)["text"]; got != "new" {
			t.Fatalf("node %s text = %v, want new", id, got)
		}
	}
}

func TestApplyFieldOverrides_MissingSelectorIsNoOp(t *testing.T) {
	doc := overrideDoc()
	ApplyFieldOverrides(doc, "id:99", map[string]any{"steps": float64(1)})
	ApplyFieldOverrides(doc, "No Such Title", map[string]any{"text": "x"})

	if nodeInputs(t, doc, "5")["steps"] != float64(20) {
		t.Fatalf("missing selector mutated document")
	}
}

func TestApplyDottedOverride(t *testing.T) {
	doc := overrideDoc()
	ApplyDottedOverride(doc, "5.inputs.seed", float64(42))
	if nodeInputs(t, doc, "5")["seed"] != float64(42) {
		t.Fatalf("dotted override did not land")
	}

	ApplyDottedOverride(doc, "5.extra.deep.value", "x")
	extra := doc["5"].(map[string]any)["extra"].(map[string]any)
	if extra["deep"].(map[string]any)["value"] != "x" {
		t.Fatalf("intermediate maps not created: %v", extra)
	}
}

func TestApplyOverrides_Dispatch(t *testing.T) {
	doc := overrideDoc()
	ApplyOverrides(doc, map[string]any{
		"id:5":            map[string]any{"cfg": float64(9)},
		"7.inputs.text":   "dotted",
		"Positive Prompt": "not a mapping",
	})

	if nodeInputs(t, doc, "5")["cfg"] != float64(9) {
		t.Fatalf("id selector not applied")
	}
	if nodeInputs(t, doc, "7")["text"] != "dotted" {
		t.Fatalf("dotted key not applied")
	}
	if nodeInputs(t, doc, "8")["text"] != "old" {
		t.Fatalf("non-mapping title value should be skipped")
	}
}
