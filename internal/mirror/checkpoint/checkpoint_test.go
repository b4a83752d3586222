package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror"
)

func TestManager_WriteConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	m := NewManager(path, nil)

	if err := m.Write("/library/Herbert/Dune", "/library/Herbert/Dune/001_Herbert_-_Dune.epub"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Write() left temp file behind")
	}

	cp, err := m.Consume()
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if cp == nil {
		t.Fatalf("Consume() = nil, want fresh checkpoint")
	}
	if cp.FolderPath != "/library/Herbert/Dune" {
		t.Errorf("Consume() FolderPath = %v", cp.FolderPath)
	}
	if cp.BookPath != "/library/Herbert/Dune/001_Herbert_-_Dune.epub" {
		t.Errorf("Consume() BookPath = %v", cp.BookPath)
	}
	if cp.SchemaVersion != SchemaVersion {
		t.Errorf("Consume() SchemaVersion = %d, want %d", cp.SchemaVersion, SchemaVersion)
	}

	// Exactly once: the file is gone and a second consume finds nothing.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Consume() did not delete the checkpoint file")
	}
	cp, err = m.Consume()
	if err != nil {
		t.Errorf("Consume() second call error = %v", err)
	}
	if cp != nil {
		t.Errorf("Consume() second call = %+v, want nil", cp)
	}
}

func TestManager_ConsumeMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "checkpoint.json"), nil)
	cp, err := m.Consume()
	if err != nil {
		t.Errorf("Consume() error = %v, want nil for missing file", err)
	}
	if cp != nil {
		t.Errorf("Consume() = %+v, want nil", cp)
	}
}

func TestManager_ConsumeStaleByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	m := NewManager(path, nil)

	base := time.Now()
	m.nowFn = func() time.Time { return base }
	if err := m.Write("/library/f", "/library/f/book.epub"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// 61 seconds later the checkpoint is a leftover, not a handoff.
	m.nowFn = func() time.Time { return base.Add(61 * time.Second) }
	cp, err := m.Consume()
	if cp != nil {
		t.Errorf("Consume() = %+v, want nil for stale checkpoint", cp)
	}
	if !mirror.IsRecovered(err) {
		t.Errorf("IsRecovered(%v) = false, want true", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("Consume() did not discard the stale file")
	}
}

func TestManager_ConsumeFreshWithinWindow(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "checkpoint.json"), nil)

	base := time.Now()
	m.nowFn = func() time.Time { return base }
	if err := m.Write("/library/f", "/library/f/book.epub"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	m.nowFn = func() time.Time { return base.Add(59 * time.Second) }
	cp, err := m.Consume()
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if cp == nil {
		t.Errorf("Consume() = nil, want checkpoint within freshness window")
	}
}

func TestManager_ConsumeWrongSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	content := `{
  "folder_path": "/library/f",
  "book_path": "/library/f/book.epub",
  "timestamp": "` + time.Now().Format(time.RFC3339) + `",
  "schema_version": 99
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	m := NewManager(path, nil)
	cp, err := m.Consume()
	if cp != nil {
		t.Errorf("Consume() = %+v, want nil for wrong schema version", cp)
	}
	if !mirror.IsRecovered(err) {
		t.Errorf("IsRecovered(%v) = false, want true", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("Consume() did not discard the mismatched file")
	}
}

func TestManager_ConsumeCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{torn"},
		{"missing fields", `{"schema_version": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "checkpoint.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			m := NewManager(path, nil)
			cp, err := m.Consume()
			if cp != nil {
				t.Errorf("Consume() = %+v, want nil for corrupt file", cp)
			}
			if !mirror.IsRecovered(err) {
				t.Errorf("IsRecovered(%v) = false, want true", err)
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Errorf("Consume() did not discard the corrupt file")
			}
		})
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		cp      Checkpoint
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid",
			cp: Checkpoint{
				FolderPath:    "/library/f",
				BookPath:      "/library/f/book.epub",
				Timestamp:     now,
				SchemaVersion: SchemaVersion,
			},
			wantErr: false,
		},
		{
			name: "missing folder_path",
			cp: Checkpoint{
				BookPath:  "/library/f/book.epub",
				Timestamp: now,
			},
			wantErr: true,
			errMsg:  "folder_path is required",
		},
		{
			name: "missing book_path",
			cp: Checkpoint{
				FolderPath: "/library/f",
				Timestamp:  now,
			},
			wantErr: true,
			errMsg:  "book_path is required",
		},
		{
			name: "missing timestamp",
			cp: Checkpoint{
				FolderPath: "/library/f",
				BookPath:   "/library/f/book.epub",
			},
			wantErr: true,
			errMsg:  "timestamp is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cp.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if err.Error() != tt.errMsg {
					t.Errorf("Validate() error = %v, want %v", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
