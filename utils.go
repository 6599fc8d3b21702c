package lsyolo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// filesByExtInDir returns all regular files and symlinks with file extension ext found directly
// in directory dirPath, sorted by name. All files are returned if ext is empty.
func filesByExtInDir(fs afero.Fs, dirPath, ext string) ([]string, error) {
	dirInfo, err := fs.Stat(dirPath)
	if err != nil || !dirInfo.IsDir() {
		return nil, fmt.Errorf("cannot read directory %q: %v", dirPath, err)
	}
	infos, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access %q: %w", dirPath, err)
	}

	files := make([]string, 0, len(infos))
	for _, file := range infos {
		name := file.Name()
		// Must be a regular file or a symlink and have the requested extension/suffix.
		if (!file.Mode().IsRegular() && (file.Mode()&os.ModeSymlink == 0)) ||
			!strings.HasSuffix(name, ext) {
			continue
		}
		files = append(files, filepath.Join(dirPath, name))
	}

	return files, nil
}

// baseName returns the final slash-separated element of p. Unlike path.Base it returns "" when p
// ends in a slash, and never ".".
func baseName(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}

// stem returns the file name without its extension. A leading dot does not start an extension,
// so ".hidden" is its own stem.
func stem(name string) string {
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	if ext == "" || strings.Trim(base, ".") == "" {
		return name
	}
	return base
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
