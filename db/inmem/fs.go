package inmem

import (
	"errors"
	"fmt"
	"os"
)

// backupPath is where the previous contents of a data file are kept while a
// new version is being written.
func backupPath(file string) string {
	return file + ".bak"
}

// writeDataFile replaces the contents of file with data. The old contents are
// moved to backupPath(file) first and stay there until the new contents have
// been synced to disk. If the new contents cannot be written, the old ones are
// moved back.
func writeDataFile(file string, data []byte) error {
	bak := backupPath(file)
	if err := os.Rename(file, bak); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("back up data file: %w", err)
		}
		bak = ""
	}

	if err := writeSynced(file, data); err != nil {
		if bak == "" {
			os.Remove(file)
		} else if restoreErr := os.Rename(bak, file); restoreErr != nil {
			return fmt.Errorf("%w; restore backup: %v", err, restoreErr)
		}
		return err
	}

	if bak != "" {
		if err := os.Remove(bak); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove backup: %w", err)
		}
	}
	return nil
}

func writeSynced(file string, data []byte) error {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0660)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync data file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close data file: %w", err)
	}
	return nil
}

// readDataFile returns the contents of file. A backup left by an interrupted
// writeDataFile is the last complete version, so if one exists it replaces
// file and its contents are returned. If neither exists, the returned error
// matches os.ErrNotExist.
func readDataFile(file string) ([]byte, error) {
	bak := backupPath(file)
	data, err := os.ReadFile(bak)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read backup: %w", err)
		}
		return os.ReadFile(file)
	}

	if err := os.Rename(bak, file); err != nil {
		return nil, fmt.Errorf("restore backup: %w", err)
	}
	return data, nil
}
