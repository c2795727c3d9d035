// Package state reads and writes the last-sync marker. The marker is
// advisory: it is shown by `vmsync status` and never feeds a decision.
package state

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/orchnova/vmsync/internal/planner"
	"github.com/orchnova/vmsync/internal/utils"
)

const (
	LaptopToVM = "laptop_to_vm"
	VMToLaptop = "vm_to_laptop"
)

var ErrNoMarker = errors.New("no sync recorded yet")

type Marker struct {
	LastSync  time.Time
	Direction string
	RunID     string
}

// DirectionLabel maps a transfer direction to the marker vocabulary.
func DirectionLabel(d planner.Direction) (string, error) {
	switch d {
	case planner.LocalToRemote:
		return LaptopToVM, nil
	case planner.RemoteToLocal:
		return VMToLaptop, nil
	}
	return "", fmt.Errorf("no marker label for direction %q", d)
}

// Write replaces the marker at path atomically.
func Write(path string, m Marker) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("marker dir: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "last_sync=%d\n", m.LastSync.Unix())
	fmt.Fprintf(&sb, "direction=%s\n", m.Direction)
	if m.RunID != "" {
		fmt.Fprintf(&sb, "run_id=%s\n", m.RunID)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".last_sync-*")
	if err != nil {
		return fmt.Errorf("marker temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("marker write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("marker close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("marker rename: %w", err)
	}
	return nil
}

// Read parses the marker at path. A missing file yields ErrNoMarker;
// unknown keys are ignored.
func Read(path string) (*Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMarker
		}
		return nil, fmt.Errorf("marker open: %w", err)
	}
	defer f.Close()

	var m Marker
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "last_sync":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("marker last_sync %q: %w", value, err)
			}
			m.LastSync = time.Unix(secs, 0).UTC()
		case "direction":
			m.Direction = value
		case "run_id":
			m.RunID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("marker read: %w", err)
	}
	return &m, nil
}
