// Package attachments хранит медиа вложений чата (фото, видео, голосовые) на диске.
// Сообщение несёт только ссылку, которую возвращает Upload.
package attachments

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
)

const defaultMaxSize = 25 << 20

var (
	ErrUnsupported = errors.New("attachments: unsupported file type")
	ErrMismatch    = errors.New("attachments: file content does not match type")
)

type format struct {
	kind        model.AttachmentKind
	contentType string
	// Фото сжимаются; видео и аудио уже сжаты кодеком и отдаются с Range.
	gzip bool
}

var formats = map[string]format{
	".jpg":  {model.AttachmentImage, "image/jpeg", true},
	".jpeg": {model.AttachmentImage, "image/jpeg", true},
	".png":  {model.AttachmentImage, "image/png", true},
	".gif":  {model.AttachmentImage, "image/gif", true},
	".webp": {model.AttachmentImage, "image/webp", true},
	".heic": {model.AttachmentImage, "image/heic", true},
	".mp4":  {model.AttachmentVideo, "video/mp4", false},
	".mov":  {model.AttachmentVideo, "video/quicktime", false},
	".webm": {model.AttachmentVideo, "video/webm", false},
	".ogg":  {model.AttachmentAudio, "audio/ogg", false},
	".oga":  {model.AttachmentAudio, "audio/ogg", false},
	".opus": {model.AttachmentAudio, "audio/ogg", false},
	".m4a":  {model.AttachmentAudio, "audio/mp4", false},
	".mp3":  {model.AttachmentAudio, "audio/mpeg", false},
}

// UploadResponse — готовое вложение для POST /api/messages плюс сведения о файле.
type UploadResponse struct {
	model.Attachment
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// Service обрабатывает загрузку и раздачу вложений.
type Service struct {
	UploadDir     string
	MaxUploadSize int64
	// BaseURL — префикс ссылок в ответе (адрес сервиса для клиентов).
	BaseURL string
}

func New(uploadDir, baseURL string, maxSize int64) *Service {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxSize, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("attachments writeJSON: %v", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// detect определяет тип вложения по расширению; для фото и видео сверяет сигнатуру файла.
// Голосовые записи браузеры отдают в контейнерах без стабильной сигнатуры, им верим по расширению.
func detect(filename string, head []byte) (ext string, f format, err error) {
	ext = strings.ToLower(filepath.Ext(strings.ReplaceAll(filename, "+", " ")))
	f, ok := formats[ext]
	if !ok {
		return "", format{}, ErrUnsupported
	}
	if !matchMagic(ext, head) {
		return "", format{}, ErrMismatch
	}
	return ext, f, nil
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic", ".mp4", ".mov":
		return len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp"))
	case ".webm":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	}
	return true
}

// Save пишет содержимое под новым именем и возвращает вложение. head — уже прочитанное начало файла.
func (s *Service) Save(ctx context.Context, filename string, head []byte, rest io.Reader) (UploadResponse, error) {
	ext, f, err := detect(filename, head)
	if err != nil {
		return UploadResponse{}, err
	}
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return UploadResponse{}, fmt.Errorf("attachments.Save mkdir: %w", err)
	}
	newName := uuid.New().String() + ext
	dstPath := filepath.Join(s.UploadDir, newName)
	if f.gzip {
		dstPath += ".gz"
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("attachments.Save create: %w", err)
	}

	var w io.Writer = dst
	var gz *gzip.Writer
	if f.gzip {
		gz = gzip.NewWriter(dst)
		w = gz
	}
	n, err := copyWithContext(ctx, w, io.MultiReader(bytes.NewReader(head), rest))
	if err == nil && gz != nil {
		err = gz.Close()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return UploadResponse{}, fmt.Errorf("attachments.Save: %w", err)
	}

	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." {
		name = newName
	}
	return UploadResponse{
		Attachment: model.Attachment{Kind: f.kind, URL: s.BaseURL + "/attachments/" + newName},
		FileName:   name,
		FileSize:   n,
	}, nil
}

// Upload — POST /attachments, multipart-поле "file".
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)
	if err := r.ParseMultipartForm(s.MaxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(file, head, len(head))
	resp, err := s.Save(r.Context(), header.Filename, head[:n], file)
	switch {
	case errors.Is(err, ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, "only photo, video or voice attachments are allowed")
		return
	case errors.Is(err, ErrMismatch):
		s.writeError(w, http.StatusBadRequest, "file content does not match type")
		return
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("attachments upload filename=%q: %v", header.Filename, err)
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	logger.Infof("attachments upload: ok kind=%s size=%d url=%s", resp.Kind, resp.FileSize, resp.URL)
	s.writeJSON(w, http.StatusCreated, resp)
}

// Serve отдаёт вложение по имени; фото распаковываются на лету.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	f, ok := formats[ext]
	if !ok || strings.Contains(filename, "..") {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", f.contentType)

	if f.gzip {
		file, err := os.Open(filepath.Join(s.UploadDir, filename+".gz"))
		if err != nil {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		defer file.Close()
		gz, err := gzip.NewReader(file)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		defer gz.Close()
		w.WriteHeader(http.StatusOK)
		io.Copy(w, gz)
		return
	}

	file, err := os.Open(filepath.Join(s.UploadDir, filename))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var n int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return n, fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			n += int64(nw)
			if ew != nil {
				return n, fmt.Errorf("write: %w", ew)
			}
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read: %w", err)
		}
	}
}
