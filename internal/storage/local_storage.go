package storage

import (
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// OverlayPrefix marks rendered heat maps in the upload directory.
const OverlayPrefix = "vis_"

// StoredFile describes a file written to the upload directory.
type StoredFile struct {
	Token string
	Name  string
	Path  string
	URL   string
}

// UploadStore persists uploads and their overlays.
type UploadStore interface {
	SaveUpload(src io.Reader, ext string) (*StoredFile, error)
	SaveOverlay(token, ext string, img image.Image) (*StoredFile, error)
	Remove(name string) error
}

// LocalStore keeps files in a single flat directory and names them with random tokens,
// so client filenames never reach the filesystem.
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore creates dir if needed. urlPrefix is the public path the directory is
// served under.
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// SaveUpload writes src as <token>.<ext>.
func (s *LocalStore) SaveUpload(src io.Reader, ext string) (*StoredFile, error) {
	token := newToken()
	file := s.file(token + "." + ext)
	file.Token = token

	out, err := os.OpenFile(file.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(file.Path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(file.Path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	return file, nil
}

// SaveOverlay encodes img as vis_<token>.<ext>. Medical extensions are not browser
// displayable, so their overlays are written as PNG.
func (s *LocalStore) SaveOverlay(token, ext string, img image.Image) (*StoredFile, error) {
	ext = OverlayExtension(ext)
	file := s.file(OverlayPrefix + token + "." + ext)
	file.Token = token

	out, err := os.Create(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay: %w", err)
	}
	defer out.Close()

	switch ext {
	case "jpg", "jpeg":
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(out, img)
	}
	if err != nil {
		os.Remove(file.Path)
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return file, nil
}

// Remove deletes a stored file by name.
func (s *LocalStore) Remove(name string) error {
	return os.Remove(filepath.Join(s.dir, filepath.Base(name)))
}

func (s *LocalStore) file(name string) *StoredFile {
	return &StoredFile{
		Name: name,
		Path: filepath.Join(s.dir, name),
		URL:  path.Join(s.urlPrefix, name),
	}
}

// OverlayExtension returns the extension an overlay for ext is saved under.
func OverlayExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "png", "jpg", "jpeg":
		return strings.ToLower(ext)
	default:
		return "png"
	}
}

func newToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
