package artifact

import (
	"fmt"
	"net/http"
	"path"

	"github.com/spf13/afero"
)

// Каталог QR-кодов внутри хранилища
const qrDir = "qr_codes"

// Storage хранит сгенерированные артефакты ссылок.
// Ref это относительный путь, который хранится в БД.
type Storage interface {
	SaveQR(linkID int64, png []byte) (string, error)
	Remove(ref string) error
	URL(ref string) string
}

type fsStorage struct {
	fs        afero.Fs
	publicURL string
}

// NewStorage fs корень хранилища, publicURL префикс, под которым он раздаётся по HTTP
func NewStorage(fs afero.Fs, publicURL string) Storage {
	return &fsStorage{fs: fs, publicURL: publicURL}
}

// NewDirStorage хранилище в каталоге локальной файловой системы
func NewDirStorage(dir, publicURL string) (Storage, afero.Fs, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	fs := afero.NewBasePathFs(osFs, dir)
	return NewStorage(fs, publicURL), fs, nil
}

// QRName имя файла QR-кода определяется только id ссылки
func QRName(linkID int64) string {
	return path.Join(qrDir, fmt.Sprintf("qr_%d.png", linkID))
}

// SaveQR пишет во временный файл и переименовывает, чтобы не оставить частичный PNG
func (s *fsStorage) SaveQR(linkID int64, png []byte) (string, error) {
	if err := s.fs.MkdirAll(qrDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", qrDir, err)
	}

	ref := QRName(linkID)
	tmp := ref + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, png, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to write QR code: %w", err)
	}

	if err := s.fs.Rename(tmp, ref); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to store QR code: %w", err)
	}

	return ref, nil
}

func (s *fsStorage) Remove(ref string) error {
	if err := s.fs.Remove(ref); err != nil {
		exists, statErr := afero.Exists(s.fs, ref)
		if statErr == nil && !exists {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", ref, err)
	}
	return nil
}

func (s *fsStorage) URL(ref string) string {
	return s.publicURL + "/" + ref
}

// HTTPFileSystem отдаёт хранилище через gin StaticFS.
// Пути открываются относительно корня fs, как и ref в БД.
func HTTPFileSystem(fs afero.Fs) http.FileSystem {
	return afero.NewHttpFs(fs).Dir("")
}
