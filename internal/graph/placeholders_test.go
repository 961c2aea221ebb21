package graph

import (
	"reflect"
	"testing"
)

func sampleDoc() Document {
	return Document{
		"3": map[string]any{
			"class_type": "LoadImage",
			"inputs": map[string]any{
				"image": "{input_image}",
			},
		},
		"7": map[string]any{
			"class_type": "CLIPTextEncode",
			"_meta":      map[string]any{"title": "Positive Prompt"},
			"inputs": map[string]any{
				"text": "input_prompt_text",
			},
		},
		"9": map[string]any{
			"class_type": "SaveImage",
			"inputs": map[string]any{
				"filename_prefix": "out",
				"images":          []any{"8", float64(0)},
			},
		},
	}
}

func TestDiscoverPlaceholders_CanonicalizesAndCollects(t *testing.T) {
	found := DiscoverPlaceholders(sampleDoc())

	if len(found) != 2 {
		t.Fatalf("DiscoverPlaceholders() found %d placeholders, want 2: %v", len(found), found)
	}
	usages, ok := found["{input_image}"]
	if !ok {
		t.Fatalf("braced token not canonicalized, got %v", found)
	}
	if len(usages) != 1 || usages[0].ClassType != "LoadImage" {
		t.Fatalf("unexpected usages for {input_image}: %+v", usages)
	}
	if _, ok := found["{input_prompt_text}"]; !ok {
		t.Fatalf("bare token not canonicalized, got %v", found)
	}
}

func TestDiscoverPlaceholders_IgnoresPartialMatches(t *testing.T) {
	doc := Document{
		"1": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs": map[string]any{
				"text": "a photo of {input_subject} on a beach",
			},
		},
	}
	if found := DiscoverPlaceholders(doc); len(found) != 0 {
		t.Fatalf("embedded token should not match, got %v", found)
	}
}

func TestSortedPlaceholderNames(t *testing.T) {
	found := map[string][]Usage{
		"{input_video}": nil,
		"{input_audio}": nil,
		"{input_image}": nil,
	}
	got := SortedPlaceholderNames(found)
	want := []string{"{input_audio}", "{input_image}", "{input_video}"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortedPlaceholderNames() = %v, want %v", got, want)
	}
}

func TestInferMediaType(t *testing.T) {
	cases := []struct {
		name   string
		usages []Usage
		want   string
	}{
		{"{input_video_clip}", nil, MediaVideo},
		{"{input_sound}", nil, MediaAudio},
		{"{input_mask}", []Usage{{ClassType: "LoadVideo"}}, MediaImage},
		{"{input_text}", nil, MediaText},
		{"{input_ref}", []Usage{{ClassType: "VHS_LoadVideo"}}, MediaVideo},
		{"{input_ref}", []Usage{{ClassType: "CLIPTextEncode", Path: []string{"inputs", "text"}}}, MediaText},
		{"{input_ref}", []Usage{{ClassType: "LoadImage", Path: []string{"inputs", "image"}}}, MediaImage},
		{"{input_ref}", []Usage{{ClassType: "Foo", Path: []string{"inputs", "prompt"}}}, MediaText},
		{"{input_ref}", nil, MediaFile},
	}
	for _, tc := range cases {
		if got := InferMediaType(tc.name, tc.usages); got != tc.want {
			t.Errorf("InferMediaType(%q, %+v) = %q, want %q", tc.name, tc.usages, got, tc.want)
		}
	}
}

func TestPlaceholderAliases(t *testing.T) {
	got := PlaceholderAliases("{input_image}")
	want := []string{"{input_image}", "input_image"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PlaceholderAliases() = %v, want %v", got, want)
	}

	got = PlaceholderAliases("input_image")
	want = []string{"input_image", "{input_image}"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PlaceholderAliases(bare) = %v, want %v", got, want)
	}
}

func TestNormalizePlaceholder(t *testing.T) {
	if got, ok := NormalizePlaceholder("  input_image "); !ok || got != "{input_image}" {
		t.Fatalf("NormalizePlaceholder() = %q, %v", got, ok)
	}
	if got, ok := NormalizePlaceholder("{input_image}"); !ok || got != "{input_image}" {
		t.Fatalf("NormalizePlaceholder(braced) = %q, %v", got, ok)
	}
	if _, ok := NormalizePlaceholder("{}"); ok {
		t.Fatalf("empty placeholder should be invalid")
	}
}

func TestSubstitutePlaceholders_ExactMatchOnly(t *testing.T) {
	doc := Document{
		"1": map[string]any{
			"inputs": map[string]any{
				"image": "{input_image}",
				"text":  "keep {input_image} inline",
			},
		},
	}
	out := SubstitutePlaceholders(doc, map[string]string{"{input_image}": "uploaded.png"})

	inputs := out["1"].(map[string]any)["inputs"].(map[string]any)
	if inputs["image"] != "uploaded.png" {
		t.Fatalf("exact match not replaced: %v", inputs["image"])
	}
	if inputs["text"] != "keep {input_image} inline" {
		t.Fatalf("partial match must not be replaced: %v", inputs["text"])
	}

	// Original stays untouched.
	orig := doc["1"].(map[string]any)["inputs"].(map[string]any)
	if orig["image"] != "{input_image}" {
		t.Fatalf("input document mutated: %v", orig["image"])
	}
}
