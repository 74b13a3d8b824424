package domain

import (
	"strings"
	"testing"
	"time"
)

func TestInsightPrompt(t *testing.T) {
	e := newResNet(t)
	if err := e.Apply(ExperimentPatch{Accuracy: ptr(93.5)}, t0.Add(time.Hour), 0); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	p := InsightPrompt(e)

	for _, want := range []string{
		"- Model Name: ResNet-50",
		"- Current Accuracy: 93.5%",
		"- Current Loss: 0.08",
		"- Notes: No notes provided",
		"- Tags: cv, resnet",
		"- Number of Versions: 2",
		"- Created: 2024-06-15T10:00:00Z",
		"1. ResNet-50 accuracy=91.2% loss=0.08",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestInsightPrompt_NoTags(t *testing.T) {
	e := &Experiment{ModelName: "m", Tags: []string{}, Notes: "  "}
	p := InsightPrompt(e)
	if !strings.Contains(p, "- Tags: No tags") || !strings.Contains(p, "- Notes: No notes provided") {
		t.Errorf("expected placeholders, got:\n%s", p)
	}
	if strings.Contains(p, "History") {
		t.Error("expected no history section without versions")
	}
}
