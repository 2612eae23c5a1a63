package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// artifacts lists the artifacts in outDir with extension ext, newest first.
func artifacts(outDir, ext string) ([]string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type stamped struct {
		path string
		mod  time.Time
	}
	var found []stamped
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{filepath.Join(outDir, e.Name()), info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].path > found[j].path
		}
		return found[i].mod.After(found[j].mod)
	})
	out := make([]string, len(found))
	for i, s := range found {
		out[i] = s.path
	}
	return out, nil
}

// newestModTime returns the newest mtime among paths, walking directories.
func newestModTime(paths ...string) time.Time {
	var newest time.Time
	for _, p := range paths {
		_ = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
				newest = info.ModTime()
			}
			return nil
		})
	}
	return newest
}

// upToDate returns the newest artifact of tc in dir when it is not older than
// any source or private library file.
func upToDate(dir string, tc Toolchain, sources []string) (string, bool) {
	arts, err := artifacts(filepath.Join(dir, OutDir), tc.ArtifactExt())
	if err != nil || len(arts) == 0 {
		return "", false
	}
	info, err := os.Stat(arts[0])
	if err != nil {
		return "", false
	}
	inputs := append([]string{filepath.Join(dir, LibDir)}, sources...)
	if newestModTime(inputs...).After(info.ModTime()) {
		return "", false
	}
	return arts[0], true
}

// pruneArtifacts removes every artifact of ext in outDir except keep.
func pruneArtifacts(outDir, ext, keep string) int {
	arts, err := artifacts(outDir, ext)
	if err != nil {
		return 0
	}
	n := 0
	for _, a := range arts {
		if a == keep {
			continue
		}
		if err := os.RemoveAll(a); err == nil {
			n++
		}
	}
	return n
}
