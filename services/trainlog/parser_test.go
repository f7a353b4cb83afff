package trainlog

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNoLogs(t *testing.T) {
	got := Parse("")
	require.Equal(t, StageUnknown, got.Stage)
	require.Equal(t, 0, got.Progress)
	require.Equal(t, "No logs available", got.StageDescription)

	require.Equal(t, got, Parse("   \n\n "))
}

func TestParseStepProgress(t *testing.T) {
	logs := strings.Join([]string{
		"Downloading weights...",
		"caching latents",
		"flux_train_replicate:  45%|████▌     | 450/1000 [05:12<06:21,  1.44it/s]",
	}, "\n")

	got := Parse(logs)
	require.Equal(t, StageTraining, got.Stage)
	require.Equal(t, 45, got.Progress)
	require.Equal(t, 450, got.CurrentStep)
	require.Equal(t, 1000, got.TotalSteps)
}

func TestParseProgressCappedAt99(t *testing.T) {
	// No completion marker: 100% on a step line alone must not report done.
	logs := "flux_train_replicate:  99%|█████████▉| 999/1000 [11:30<00:01,  1.44it/s]"
	got := Parse(logs)
	require.Equal(t, StageTraining, got.Stage)
	require.LessOrEqual(t, got.Progress, 99)
}

func TestParseCompletionMarkerWins(t *testing.T) {
	logs := strings.Join([]string{
		"flux_train_replicate: 100%|██████████| 1000/1000",
		"lora weights saved to output/lora.safetensors",
	}, "\n")

	got := Parse(logs)
	require.Equal(t, StageCompleted, got.Stage)
	require.Equal(t, 100, got.Progress)
}

func TestParseCompletionMarkerOutsideRecentWindow(t *testing.T) {
	// The marker is buried far above the tail; completion still wins
	// because the full blob is checked.
	lines := []string{"lora weights saved to output/lora.safetensors"}
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("post-processing line %d", i))
	}

	got := Parse(strings.Join(lines, "\n"))
	require.Equal(t, StageCompleted, got.Stage)
}

func TestParseModelLoading(t *testing.T) {
	got := Parse("loading checkpoint shards\nloading model from flux1-dev.safetensors")
	require.Equal(t, StageLoadingModel, got.Stage)
	require.Equal(t, 15, got.Progress)
}

func TestParseModelLoadingAtZeroPercent(t *testing.T) {
	logs := strings.Join([]string{
		"create LoRA network. base dim (rank): 16",
		"flux_train_replicate:   0%|          | 0/1000 [00:00<?, ?it/s]",
	}, "\n")

	got := Parse(logs)
	require.Equal(t, StageTraining, got.Stage)
	require.Equal(t, 1, got.Progress)
	require.Equal(t, "Initializing training...", got.StageDescription)
}

func TestParseModelLoadingIgnoresUnrelatedPercentages(t *testing.T) {
	// "30%" in a download line must not read as a literal zero-percent
	// step marker.
	logs := strings.Join([]string{
		"downloading shard: 30%",
		"loading model from flux1-dev.safetensors",
	}, "\n")

	got := Parse(logs)
	require.Equal(t, StageLoadingModel, got.Stage)
	require.Equal(t, 15, got.Progress)
}

func TestParseImagePreparation(t *testing.T) {
	got := Parse("extracting zip archive\ncaching latents to disk")
	require.Equal(t, StageUploadingImages, got.Stage)
	require.Equal(t, 5, got.Progress)
}

func TestParseUnrecognizedLogs(t *testing.T) {
	got := Parse("some unrelated provisioning output")
	require.Equal(t, StageUploadingImages, got.Stage)
	require.Equal(t, 2, got.Progress)
	require.Equal(t, "Preparing training environment", got.StageDescription)
}

func TestParseOnlyRecentWindowScanned(t *testing.T) {
	// A step marker followed by >20 lines of noise falls out of the
	// recency window.
	lines := []string{"flux_train_replicate:  45%|████▌     | 450/1000"}
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("noise %d", i))
	}

	got := Parse(strings.Join(lines, "\n"))
	require.NotEqual(t, StageTraining, got.Stage)
}

func TestParseDeterministic(t *testing.T) {
	logs := "flux_train_replicate:  45%|████▌     | 450/1000"
	require.Equal(t, Parse(logs), Parse(logs))
}
