package lsyolo

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	_ "golang.org/x/image/webp" // Label Studio accepts webp uploads.
)

// ImageStore locates the image of a record and materialises it in the dataset tree.
type ImageStore interface {
	// Resolve returns the absolute path of the image file of r, and whether that file exists.
	Resolve(r LabeledRecord) (path string, found bool)

	// Link makes the image at src available at dst, replacing any existing file or link at dst.
	Link(src, dst string) error
}

// imageExtensions are the file types uploaded as tasks.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".webp": true,
}

// ImageFiles returns the image files found directly in dir, sorted by name. Extensions are
// matched case-insensitively.
func ImageFiles(fs afero.Fs, dir string) ([]string, error) {
	files, err := filesByExtInDir(fs, dir, "")
	if err != nil {
		return nil, err
	}
	images := files[:0]
	for _, f := range files {
		if imageExtensions[strings.ToLower(filepath.Ext(f))] {
			images = append(images, f)
		}
	}
	return images, nil
}

// LinkMode selects how LocalImages places images in the dataset.
type LinkMode string

// The supported link modes.
const (
	LinkSymlink LinkMode = "symlink" // Symbolic link; a copy if the file system has no links.
	LinkCopy    LinkMode = "copy"    // Byte copy.
	LinkResize  LinkMode = "resize"  // Copy, downscaled so that the longer side is at most ImageSize.
)

// ParseLinkMode validates s as a LinkMode.
func ParseLinkMode(s string) (LinkMode, error) {
	switch m := LinkMode(s); m {
	case LinkSymlink, LinkCopy, LinkResize:
		return m, nil
	}
	return "", fmt.Errorf("unknown link mode %q", s)
}

// LocalImages resolves image references to files on Fs.
//
// References are resolved in this order: BaseDir joined with the image file name if BaseDir is
// set; else the local-files path after "d=" relative to WorkDir; else the reference itself.
type LocalImages struct {
	Fs          afero.Fs
	BaseDir     string   // Optional directory that holds all images.
	WorkDir     string   // Base for relative paths; the process working directory if empty.
	Mode        LinkMode // LinkSymlink if empty.
	ImageSize   int      // The longer side for LinkResize.
	JPEGQuality int      // JPEG quality for LinkResize, 95 if zero.
}

// Resolve implements ImageStore.
func (s *LocalImages) Resolve(r LabeledRecord) (string, bool) {
	var path string
	if s.BaseDir != "" {
		path = filepath.Join(s.BaseDir, r.ImageFilename())
	} else if rel, ok := localFilesPath(r.Image); ok {
		path = s.abs(rel)
	} else {
		path = r.Image
	}
	path = s.abs(path)

	if _, err := s.Fs.Stat(path); err != nil {
		return path, false
	}
	return path, true
}

func (s *LocalImages) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	wd := s.WorkDir
	if wd == "" {
		wd, _ = os.Getwd()
	}
	return filepath.Join(wd, path)
}

// Link implements ImageStore.
func (s *LocalImages) Link(src, dst string) error {
	if err := s.Fs.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot replace %q: %w", dst, err)
	}

	switch s.Mode {
	case LinkSymlink, "":
		if linker, ok := s.Fs.(afero.Linker); ok {
			return linker.SymlinkIfPossible(src, dst)
		}
		return s.copyFile(src, dst)
	case LinkCopy:
		return s.copyFile(src, dst)
	case LinkResize:
		return s.resizeFile(src, dst)
	}
	return fmt.Errorf("unknown link mode %q", s.Mode)
}

// copyFile copies the contents of src to dst.
func (s *LocalImages) copyFile(src, dst string) (err error) {
	in, err := s.Fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.Fs.Create(dst)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	_, err = io.Copy(out, in)
	return err
}

// resizeFile writes a downscaled copy of src to dst. Images that already fit, and output formats
// imaging cannot encode, are copied unchanged.
func (s *LocalImages) resizeFile(src, dst string) (err error) {
	format, err := imaging.FormatFromFilename(dst)
	if err != nil || s.ImageSize <= 0 {
		return s.copyFile(src, dst)
	}

	in, err := s.Fs.Open(src)
	if err != nil {
		return err
	}
	img, err := imaging.Decode(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("cannot decode %q: %w", src, err)
	}

	resized, ok := fitLongerSide(img, s.ImageSize, imaging.Lanczos)
	if !ok {
		return s.copyFile(src, dst)
	}

	out, err := s.Fs.Create(dst)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	quality := s.JPEGQuality
	if quality <= 0 {
		quality = 95
	}
	return imaging.Encode(out, resized, format, imaging.JPEGQuality(quality))
}

// fitLongerSide downsamples img so that its longer side equals longerSide, keeping the aspect
// ratio. Both axes scale by the same factor, so normalised box coordinates stay valid.
//
// Returns false without resampling if the image already fits.
func fitLongerSide(img image.Image, longerSide int, filter imaging.ResampleFilter) (image.Image, bool) {
	b := img.Bounds()
	if b.Dx() <= longerSide && b.Dy() <= longerSide {
		return img, false
	}
	return imaging.Fit(img, longerSide, longerSide, filter), true
}
