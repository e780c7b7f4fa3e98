// Package identity verifies that every FIT file in a directory tree was
// produced by the same physical device, by comparing file_id serial
// numbers.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tormoder/fit"
)

// Mismatch is one file whose serial number differs from the directory's
// reference serial (the first readable file's).
type Mismatch struct {
	Dir      string
	File     string
	Serial   uint32
	Expected uint32
}

// DirResult summarizes one subdirectory's check.
type DirResult struct {
	Dir        string
	Files      int
	Unreadable int
	Serial     uint32
	Mismatches []Mismatch
}

// CheckTree checks each immediate subdirectory of parent independently,
// sorted by name. Files that cannot be read or decoded count as unreadable
// and do not abort the check.
func CheckTree(parent string) ([]DirResult, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("read parent directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]DirResult, 0, len(names))
	for _, name := range names {
		res, err := CheckDir(filepath.Join(parent, name))
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// CheckDir compares every FIT file in dir against the first readable
// file's serial number.
func CheckDir(dir string) (*DirResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".fit") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	res := &DirResult{Dir: dir}
	haveRef := false
	for _, name := range names {
		res.Files++
		serial, err := readSerial(filepath.Join(dir, name))
		if err != nil {
			res.Unreadable++
			continue
		}
		if !haveRef {
			res.Serial = serial
			haveRef = true
			continue
		}
		if serial != res.Serial {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Dir:      dir,
				File:     name,
				Serial:   serial,
				Expected: res.Serial,
			})
		}
	}
	return res, nil
}

// readSerial decodes only the header and file_id message, not the whole
// file.
func readSerial(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	_, id, err := fit.DecodeHeaderAndFileID(f)
	if err != nil {
		return 0, fmt.Errorf("decode file_id: %w", err)
	}
	return id.SerialNumber, nil
}
