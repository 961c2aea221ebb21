package graph

import (
	"reflect"
	"testing"
)

func TestInferOutputTypes(t *testing.T) {
	doc := Document{
		"1": map[string]any{
			"class_type": "SaveImage",
			"inputs":     map[string]any{"filename_prefix": "out"},
		},
		"2": map[string]any{
			"class_type": "VHS_VideoCombine",
			"inputs":     map[string]any{"save_output": true, "format": "video/h264-mp4"},
		},
		"3": map[string]any{
			"class_type": "PreviewImage",
			"inputs":     map[string]any{"images": []any{"1", float64(0)}},
		},
	}
	got := InferOutputTypes(doc)
	want := []string{MediaImage, MediaVideo}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("InferOutputTypes() = %v, want %v", got, want)
	}
}

func TestInferOutputTypes_SaveOutputFalseIgnored(t *testing.T) {
	doc := Document{
		"1": map[string]any{
			"class_type": "VHS_VideoCombine",
			"inputs":     map[string]any{"save_output": false},
		},
	}
	if got := InferOutputTypes(doc); len(got) != 0 {
		t.Fatalf("InferOutputTypes() = %v, want empty", got)
	}
}

func TestInferOutputTypes_VideoKeywordInInputs(t *testing.T) {
	doc := Document{
		"1": map[string]any{
			"class_type": "SaveAnything",
			"inputs":     map[string]any{"filename_prefix": "clip", "container": "video"},
		},
	}
	got := InferOutputTypes(doc)
	if !reflect.DeepEqual(got, []string{MediaVideo}) {
		t.Fatalf("InferOutputTypes() = %v, want [video]", got)
	}
}
