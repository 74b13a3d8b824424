package domain

import (
	"fmt"
	"strings"
	"time"
)

// Insight is generated advice for one experiment.
type Insight struct {
	ExperimentID string    `json:"experimentId"`
	Insights     string    `json:"insights"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// InsightPrompt describes e for a language model and asks for improvement
// advice. The version count includes the current state.
func InsightPrompt(e *Experiment) string {
	notes := e.Notes
	if strings.TrimSpace(notes) == "" {
		notes = "No notes provided"
	}
	tags := strings.Join(e.Tags, ", ")
	if tags == "" {
		tags = "No tags"
	}

	var b strings.Builder
	b.WriteString("Analyze this machine learning experiment and provide insights and recommendations for improvement:\n\n")
	b.WriteString("Experiment Details:\n")
	fmt.Fprintf(&b, "- Model Name: %s\n", e.ModelName)
	fmt.Fprintf(&b, "- Current Accuracy: %g%%\n", e.Accuracy)
	fmt.Fprintf(&b, "- Current Loss: %g\n", e.Loss)
	fmt.Fprintf(&b, "- Notes: %s\n", notes)
	fmt.Fprintf(&b, "- Tags: %s\n", tags)
	fmt.Fprintf(&b, "- Number of Versions: %d\n", len(e.Versions)+1)
	fmt.Fprintf(&b, "- Created: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Last Updated: %s\n", e.UpdatedAt.UTC().Format(time.RFC3339))

	if len(e.Versions) > 0 {
		b.WriteString("\nHistory (oldest first):\n")
		for i, v := range e.Versions {
			fmt.Fprintf(&b, "%d. %s accuracy=%g%% loss=%g\n", i+1, v.ModelName, v.Accuracy, v.Loss)
		}
	}

	b.WriteString(`
Please provide:
1. A brief summary of the experiment's performance
2. Analysis of the accuracy and loss metrics
3. Potential reasons for the current performance level
4. Specific recommendations to improve accuracy
5. Suggestions for reducing loss
6. Any additional insights based on the model name and tags

Keep the response concise but informative, structured in clear sections.
`)
	return b.String()
}
