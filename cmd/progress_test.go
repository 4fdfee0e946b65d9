package cmd

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/reporter"
)

func testComparison() *comparison.Config {
	return &comparison.Config{
		SourceA:     comparison.Table("main", "orders"),
		SourceB:     comparison.Table("main", "orders_v2"),
		JoinColumns: []string{"id"},
		Algorithm:   comparison.AlgorithmHashBucket,
	}
}

func newTestModel(supportsFinishEarly bool) (progressModel, *reporter.Reporter) {
	rep := reporter.New(reporter.Progress{RunID: "run-1", SupportsFinishEarly: supportsFinishEarly})
	return newProgressModel(rep, testComparison(), nil), rep
}

func keyMsg(key string) tea.KeyMsg {
	if key == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestProgressModelSnapshots(t *testing.T) {
	t.Run("initial snapshot", func(t *testing.T) {
		m, _ := newTestModel(true)
		if m.current.RunID != "run-1" {
			t.Fatalf("expected the current snapshot, got %+v", m.current)
		}
		if m.Init() == nil {
			t.Fatal("Init should start the spinner and the snapshot pump")
		}
	})

	t.Run("bucket progress", func(t *testing.T) {
		m, _ := newTestModel(true)
		model, cmd := m.Update(snapshotMsg(reporter.Progress{
			RunID:               "run-1",
			Stage:               reporter.StageBucketComplete,
			TotalBuckets:        4,
			CompletedBuckets:    1,
			DiffRows:            2,
			SupportsFinishEarly: true,
			CurrentBucket:       &reporter.BucketRef{Modulus: 4, Index: 2, Depth: 2},
			LastBucket:          &reporter.BucketRef{Modulus: 4, Index: 0, Depth: 2, CountA: 10, CountB: 11},
		}))
		pm := model.(progressModel)

		if cmd == nil {
			t.Fatal("a running snapshot should keep waiting for more")
		}
		if pm.done {
			t.Fatal("model should not be done before a terminal snapshot")
		}
		if len(pm.messages) != 1 || !strings.Contains(pm.messages[0], "bucket 0 mod 4") {
			t.Fatalf("expected a bucket completion message, got %v", pm.messages)
		}

		view := pm.View()
		for _, want := range []string{"main.orders", "main.orders_v2", "Buckets: 1/4", "Differences: 2", "f: finish early"} {
			if !strings.Contains(view, want) {
				t.Errorf("view missing %q:\n%s", want, view)
			}
		}
	})

	t.Run("split message", func(t *testing.T) {
		m, _ := newTestModel(true)
		model, _ := m.Update(snapshotMsg(reporter.Progress{
			Stage:         reporter.StageSplitting,
			TotalBuckets:  2,
			CurrentBucket: &reporter.BucketRef{Modulus: 1},
		}))
		pm := model.(progressModel)
		if len(pm.messages) != 1 || !strings.Contains(pm.messages[0], "Split all keys") {
			t.Fatalf("expected a split message, got %v", pm.messages)
		}
	})

	t.Run("terminal snapshot", func(t *testing.T) {
		m, _ := newTestModel(true)
		model, cmd := m.Update(snapshotMsg(reporter.Progress{Stage: reporter.StageCompleted, TotalBuckets: 1, CompletedBuckets: 1}))
		pm := model.(progressModel)
		if !pm.done || cmd == nil {
			t.Fatal("terminal snapshot should quit")
		}
		if pm.View() != "" {
			t.Fatal("view should be empty once done")
		}
	})

	t.Run("closed subscription", func(t *testing.T) {
		m, _ := newTestModel(true)
		model, _ := m.Update(snapshotsClosedMsg{})
		if !model.(progressModel).done {
			t.Fatal("closed subscription should finish the model")
		}
	})

	t.Run("message history is bounded", func(t *testing.T) {
		m, _ := newTestModel(true)
		for i := 0; i < maxMessages+3; i++ {
			m.addMessage("msg")
		}
		if len(m.messages) != maxMessages {
			t.Fatalf("expected %d messages, got %d", maxMessages, len(m.messages))
		}
	})
}

func TestProgressModelKeys(t *testing.T) {
	t.Run("cancel then quit", func(t *testing.T) {
		m, rep := newTestModel(true)

		model, cmd := m.Update(keyMsg("q"))
		pm := model.(progressModel)
		if rep.StopMode() != reporter.StopCancel {
			t.Fatalf("first q should request cancel, got %v", rep.StopMode())
		}
		if pm.done || cmd != nil {
			t.Fatal("first q should keep the view open")
		}

		model, cmd = pm.Update(keyMsg("ctrl+c"))
		if !model.(progressModel).done || cmd == nil {
			t.Fatal("second press should quit")
		}
	})

	t.Run("finish early", func(t *testing.T) {
		m, rep := newTestModel(true)
		model, _ := m.Update(keyMsg("f"))
		pm := model.(progressModel)
		if rep.StopMode() != reporter.StopFinishEarly {
			t.Fatalf("f should request finish early, got %v", rep.StopMode())
		}
		if len(pm.messages) != 1 || !strings.Contains(pm.messages[0], "Finishing") {
			t.Fatalf("unexpected messages: %v", pm.messages)
		}
	})

	t.Run("finish early unsupported", func(t *testing.T) {
		m, rep := newTestModel(false)
		model, _ := m.Update(keyMsg("f"))
		pm := model.(progressModel)
		if rep.StopMode() != reporter.StopNone {
			t.Fatalf("unsupported finish early should not stop the run, got %v", rep.StopMode())
		}
		if len(pm.messages) != 1 || !strings.Contains(pm.messages[0], "hash-bucket or hash-range") {
			t.Fatalf("unexpected messages: %v", pm.messages)
		}
		if strings.Contains(pm.View(), "f: finish early") {
			t.Fatal("help should not offer finish early")
		}
	})

	t.Run("window resize", func(t *testing.T) {
		m, _ := newTestModel(true)
		model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
		pm := model.(progressModel)
		if pm.width != 100 || pm.overall.Width != 90 {
			t.Fatalf("unexpected widths: %d %d", pm.width, pm.overall.Width)
		}
	})
}

func TestStageDescription(t *testing.T) {
	tests := []struct {
		stage reporter.Stage
		want  string
	}{
		{"", "Starting..."},
		{reporter.StageQueued, "Starting..."},
		{reporter.StageCounting, "Counting rows in bucket"},
		{reporter.StageInserting, "Diffing bucket"},
		{reporter.StageFinalizing, "Merging results"},
		{reporter.StagePartial, "Partial"},
		{reporter.StageCancelled, "Cancelled"},
	}
	for _, tt := range tests {
		if got := stageDescription(tt.stage); got != tt.want {
			t.Errorf("stageDescription(%q) = %q, want %q", tt.stage, got, tt.want)
		}
	}
}
