package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/reporter"
)

// TaskInfo represents the current comparison run status
type TaskInfo struct {
	PID              int       `json:"pid"`
	StartTime        time.Time `json:"start_time"`
	RunID            string    `json:"run_id"`
	SourceA          string    `json:"source_a"`
	SourceB          string    `json:"source_b"`
	Algorithm        string    `json:"algorithm"`
	Stage            string    `json:"stage"`
	CurrentBucket    string    `json:"current_bucket,omitempty"`
	Progress         float64   `json:"progress"`
	TotalBuckets     int       `json:"total_buckets"`
	CompletedBuckets int       `json:"completed_buckets"`
	ProcessedRows    int64     `json:"processed_rows"`
	DiffRows         int64     `json:"diff_rows"`
	Error            string    `json:"error,omitempty"`
	LastUpdate       time.Time `json:"last_update"`
}

func newTaskInfo(cfg *comparison.Config) *TaskInfo {
	return &TaskInfo{
		PID:       os.Getpid(),
		StartTime: time.Now(),
		SourceA:   cfg.SourceA.Label(),
		SourceB:   cfg.SourceB.Label(),
		Algorithm: string(cfg.EffectiveAlgorithm()),
	}
}

// apply copies a progress snapshot into the task info
func (t *TaskInfo) apply(p reporter.Progress) {
	t.RunID = p.RunID
	t.Stage = string(p.Stage)
	t.Progress = p.Percent() / 100
	t.TotalBuckets = p.TotalBuckets
	t.CompletedBuckets = p.CompletedBuckets
	t.ProcessedRows = p.ProcessedRows
	t.DiffRows = p.DiffRows
	t.Error = p.Error
	t.CurrentBucket = ""
	if p.CurrentBucket != nil {
		t.CurrentBucket = bucketLabel(p.CurrentBucket)
	}
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".data-differ", "differ.pid")
}

// GetTaskFilePath returns the path to the task info file
func GetTaskFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".data-differ", "current_task.json")
}

// WritePIDFile writes the current process PID to a file
func WritePIDFile() error {
	pidPath := GetPIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteTaskInfo writes current task information to file
func WriteTaskInfo(info *TaskInfo) error {
	taskPath := GetTaskFilePath()
	if err := os.MkdirAll(filepath.Dir(taskPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	// Write then rename so readers never see a partial file
	tmp := taskPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, taskPath)
}

// ReadTaskInfo reads current task information from file
func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}
	return &info, nil
}

// RemoveTaskFile removes the task info file
func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}
