package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// rename is swapped in tests to simulate file system failures.
var rename = os.Rename

// Stage collects uploads in a hidden directory before they are published
// to their final location. A stage is used as:
//
//	stage := layout.NewStage(jobID)
//	stage.Add(...)      // write to staging
//	// insert rows
//	stage.Publish()     // move into place, keeping backups of replaced files
//	// commit
//	stage.Cleanup()     // or stage.Discard() if anything failed
//
// Discard after Publish restores the replaced files.
type Stage struct {
	dir       string
	entries   []stagedFile
	published int
}

type stagedFile struct {
	tmp    string
	final  string
	backup string
}

// NewStage creates a staging directory inside the job directory.
func (l Layout) NewStage(jobID uuid.UUID) (*Stage, error) {
	dir := filepath.Join(l.JobDir(jobID), ".staging-"+uuid.NewString())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Stage{dir: dir}, nil
}

// Add writes u into the stage. It is published to final.
func (s *Stage) Add(u Upload, final string) error {
	tmp := filepath.Join(s.dir, fmt.Sprintf("%d", len(s.entries)))
	if err := Save(u, tmp); err != nil {
		return err
	}
	s.entries = append(s.entries, stagedFile{tmp: tmp, final: final})
	return nil
}

// Len returns the number of staged files.
func (s *Stage) Len() int {
	return len(s.entries)
}

// Publish moves every staged file to its final location.
func (s *Stage) Publish() error {
	for i := s.published; i < len(s.entries); i++ {
		e := &s.entries[i]
		if err := os.MkdirAll(filepath.Dir(e.final), dirPerm); err != nil {
			return err
		}
		if _, err := os.Stat(e.final); err == nil {
			e.backup = e.tmp + ".bak"
			if err := rename(e.final, e.backup); err != nil {
				e.backup = ""
				return fmt.Errorf("failed to back up %s: %w", e.final, err)
			}
		}
		if err := rename(e.tmp, e.final); err != nil {
			err = fmt.Errorf("failed to publish %s: %w", e.final, err)
			if e.backup != "" {
				// The backup stays recorded so Discard can retry the restore.
				if rerr := rename(e.backup, e.final); rerr != nil {
					return multierror.Append(err, fmt.Errorf("failed to restore %s: %w", e.final, rerr))
				}
				e.backup = ""
			}
			return err
		}
		s.published = i + 1
	}
	return nil
}

// Discard removes published files, restores the files they replaced and
// deletes the staging directory.
func (s *Stage) Discard() error {
	var result *multierror.Error
	if s.published < len(s.entries) {
		// A publish that failed midway may have left its backup unrestored.
		if e := s.entries[s.published]; e.backup != "" {
			if err := rename(e.backup, e.final); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for i := s.published - 1; i >= 0; i-- {
		e := s.entries[i]
		if err := os.Remove(e.final); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
		if e.backup != "" {
			if err := rename(e.backup, e.final); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	s.published = 0
	if err := os.RemoveAll(s.dir); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Cleanup deletes the staging directory and the backups it holds.
func (s *Stage) Cleanup() error {
	return os.RemoveAll(s.dir)
}
