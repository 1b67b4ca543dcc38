package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/agrilink/internal/model"
)

var pngHead = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		kind model.AttachmentKind
		err  error
	}{
		{"crop.png", pngHead, model.AttachmentImage, nil},
		{"crop.PNG", pngHead, model.AttachmentImage, nil},
		{"crop.png", []byte("not a png"), "", ErrMismatch},
		{"field.mp4", []byte("\x00\x00\x00\x18ftypmp42"), model.AttachmentVideo, nil},
		{"note.ogg", []byte("anything"), model.AttachmentAudio, nil},
		{"run.sh", []byte("#!/bin/sh"), "", ErrUnsupported},
		{"invoice.pdf", []byte("%PDF-1.7"), "", ErrUnsupported},
	}
	for _, tt := range tests {
		_, f, err := detect(tt.name, tt.head)
		if !errors.Is(err, tt.err) {
			t.Fatalf("detect(%s) err = %v, want %v", tt.name, err, tt.err)
		}
		if err == nil && f.kind != tt.kind {
			t.Fatalf("detect(%s) kind = %s, want %s", tt.name, f.kind, tt.kind)
		}
	}
}

func upload(t *testing.T, h http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadAndServeImage(t *testing.T) {
	svc := New(t.TempDir(), "http://files.local/", 1<<20)
	photo := append(append([]byte{}, pngHead...), bytes.Repeat([]byte("leaf"), 1000)...)

	rec := upload(t, http.HandlerFunc(svc.Upload), "tomatoes.png", photo)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != model.AttachmentImage || !strings.HasPrefix(resp.URL, "http://files.local/attachments/") || resp.FileSize != int64(len(photo)) {
		t.Fatalf("response = %+v", resp)
	}
	if _, err := os.Stat(svc.UploadDir + "/" + path.Base(resp.URL) + ".gz"); err != nil {
		t.Fatalf("image not stored compressed: %v", err)
	}

	out := httptest.NewRecorder()
	svc.Serve(out, httptest.NewRequest(http.MethodGet, "/", nil), path.Base(resp.URL))
	if out.Code != http.StatusOK || out.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("serve = %d %s", out.Code, out.Header().Get("Content-Type"))
	}
	if !bytes.Equal(out.Body.Bytes(), photo) {
		t.Fatal("served bytes differ from upload")
	}
}

func TestUploadVoiceKeepsRawFile(t *testing.T) {
	svc := New(t.TempDir(), "", 0)
	voice := []byte("OggS voice note")
	resp, err := svc.Save(context.Background(), "voice.ogg", voice[:4], bytes.NewReader(voice[4:]))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind != model.AttachmentAudio || resp.URL != "/attachments/"+path.Base(resp.URL) {
		t.Fatalf("response = %+v", resp)
	}
	out := httptest.NewRecorder()
	svc.Serve(out, httptest.NewRequest(http.MethodGet, "/", nil), path.Base(resp.URL))
	got, _ := io.ReadAll(out.Body)
	if out.Code != http.StatusOK || string(got) != string(voice) {
		t.Fatalf("serve = %d %q", out.Code, got)
	}
}

func TestUploadRejects(t *testing.T) {
	svc := New(t.TempDir(), "", 1<<20)
	h := http.HandlerFunc(svc.Upload)
	if rec := upload(t, h, "script.js", []byte("alert(1)")); rec.Code != http.StatusBadRequest {
		t.Fatalf("script upload = %d", rec.Code)
	}
	if rec := upload(t, h, "fake.jpg", []byte("plain text")); rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatched upload = %d", rec.Code)
	}
	out := httptest.NewRecorder()
	svc.Serve(out, httptest.NewRequest(http.MethodGet, "/", nil), "../../etc/passwd")
	if out.Code != http.StatusNotFound {
		t.Fatalf("traversal = %d", out.Code)
	}
}
