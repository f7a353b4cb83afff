package trainlog

import (
	"regexp"
	"strconv"
	"strings"
)

// Stage is the coarse training phase derived from provider logs.
type Stage string

const (
	StageUnknown         Stage = "unknown"
	StageUploadingImages Stage = "uploading_images"
	StageLoadingModel    Stage = "loading_model"
	StageTraining        Stage = "training"
	StageCompleted       Stage = "completed"
)

// Progress is the structured view extracted from a raw provider log blob.
type Progress struct {
	Stage            Stage  `json:"stage"`
	Progress         int    `json:"progress"`
	CurrentStep      int    `json:"currentStep,omitempty"`
	TotalSteps       int    `json:"totalSteps,omitempty"`
	StageDescription string `json:"stageDescription"`
}

// recentWindow is how many trailing non-blank log lines are scanned for
// stage markers. Training logs can run to thousands of lines; only the
// tail reflects what the job is doing now.
const recentWindow = 20

var (
	stepProgressRe = regexp.MustCompile(`flux_train_replicate:\s*(\d+)%.*?(\d+)/(\d+)`)

	completionMarkers = []string{
		"flux_train_replicate: 100%",
		"saved to output",
	}

	modelLoadMarkers = []string{
		"loading model",
		"loading checkpoint",
		"load network",
		"create lora network",
		"create network",
	}

	imagePrepMarkers = []string{
		"extract images",
		"extracting",
		"caching latents",
		"cache latents",
		"preprocess",
		"loading image",
	}
)

// Parse turns a raw training log blob into structured progress. It is a
// pure function: no I/O, deterministic for a given input.
func Parse(logs string) Progress {
	if strings.TrimSpace(logs) == "" {
		return Progress{
			Stage:            StageUnknown,
			Progress:         0,
			StageDescription: "No logs available",
		}
	}

	lower := strings.ToLower(logs)

	// Completion markers are authoritative and checked against the whole
	// blob, not just the tail.
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return Progress{
				Stage:            StageCompleted,
				Progress:         100,
				StageDescription: "Training completed",
			}
		}
	}

	recent := recentLines(logs, recentWindow)
	recentLower := strings.ToLower(recent)

	if all := stepProgressRe.FindAllStringSubmatch(recent, -1); len(all) > 0 {
		m := all[len(all)-1] // newest progress line wins
		percent, _ := strconv.Atoi(m[1])
		current, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])

		if percent > 0 {
			// Cap below 100 until the completion marker shows up, so the
			// UI never reports done on a partial step.
			if percent > 99 {
				percent = 99
			}
			return Progress{
				Stage:            StageTraining,
				Progress:         percent,
				CurrentStep:      current,
				TotalSteps:       total,
				StageDescription: "Training LoRA model (step " + strconv.Itoa(current) + " of " + strconv.Itoa(total) + ")",
			}
		}
	}

	if containsAny(recentLower, modelLoadMarkers) {
		if zeroStepProgress(recent) {
			return Progress{
				Stage:            StageTraining,
				Progress:         1,
				StageDescription: "Initializing training...",
			}
		}
		return Progress{
			Stage:            StageLoadingModel,
			Progress:         15,
			StageDescription: "Loading base model",
		}
	}

	if containsAny(recentLower, imagePrepMarkers) {
		return Progress{
			Stage:            StageUploadingImages,
			Progress:         5,
			StageDescription: "Processing training images",
		}
	}

	return Progress{
		Stage:            StageUploadingImages,
		Progress:         2,
		StageDescription: "Preparing training environment",
	}
}

// zeroStepProgress reports whether the newest step-progress line in the
// tail reads a literal 0%, meaning the trainer started but no step has
// run yet. Percentages in unrelated tokens do not count.
func zeroStepProgress(recent string) bool {
	all := stepProgressRe.FindAllStringSubmatch(recent, -1)
	if len(all) == 0 {
		return false
	}
	percent, _ := strconv.Atoi(all[len(all)-1][1])
	return percent == 0
}

func recentLines(logs string, n int) string {
	lines := strings.Split(logs, "\n")

	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}

	// restore original order
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return strings.Join(kept, "\n")
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
