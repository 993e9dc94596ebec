package project

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"picocontrol/models"
)

// templateRoot locates a template tree inside the resources.
func templateRoot(hw models.HardwareType, tmpl models.Template) string {
	return path.Join(fmt.Sprintf("%s-%s", hw, tmpl), string(tmpl))
}

// copyTree copies root from src into dest, overwriting existing files.
func copyTree(src fs.FS, root, dest string) error {
	return fs.WalkDir(src, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(p, root)))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// treeCopied reports whether every file of root exists under dest.
func treeCopied(src fs.FS, root, dest string) bool {
	complete := true
	err := fs.WalkDir(src, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !exists(filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(p, root)))) {
			complete = false
			return fs.SkipAll
		}
		return nil
	})
	return err == nil && complete
}
