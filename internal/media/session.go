// Package media — локальные камера и микрофон участника звонка.
// Медиа никуда не передаётся: каждый участник держит собственную сессию предпросмотра.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agrilink/internal/model"
)

var (
	// ErrPermissionDenied — пользователь или устройство отказали в доступе.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrDeviceBusy — устройство ещё занято другой сессией.
	ErrDeviceBusy = errors.New("media device busy")
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Constraints — что запрашивать у устройства.
type Constraints struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// ConstraintsFor — {audio: true, video: type == video}.
func ConstraintsFor(t model.CallType) Constraints {
	return Constraints{Audio: true, Video: t == model.CallVideo}
}

// Track — захваченная дорожка устройства.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Stopped() bool
}

// Device выдаёт дорожки по ограничениям. Open может ждать решения пользователя.
type Device interface {
	Open(ctx context.Context, c Constraints) ([]Track, error)
}

// State — состояние сессии для клиента.
type State struct {
	Active       bool   `json:"active"`
	HasAudio     bool   `json:"has_audio"`
	HasVideo     bool   `json:"has_video"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
	Surface      string `json:"surface,omitempty"`
}

// Session владеет дорожками одного пользователя. Release обязателен при завершении звонка.
type Session struct {
	dev Device

	mu      sync.Mutex
	tracks  []Track
	surface string
}

func NewSession(dev Device) *Session {
	return &Session{dev: dev}
}

// Acquire захватывает дорожки. Прежние дорожки освобождаются до обращения к устройству.
func (s *Session) Acquire(ctx context.Context, c Constraints) error {
	s.Release()
	if !c.Audio && !c.Video {
		return nil
	}
	tracks, err := s.dev.Open(ctx, c)
	if err != nil {
		return fmt.Errorf("media.Acquire: %w", err)
	}
	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()
	return nil
}

func (s *Session) toggle(kind TrackKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, found := false, false
	for _, t := range s.tracks {
		if t.Kind() != kind || t.Stopped() {
			continue
		}
		t.SetEnabled(!t.Enabled())
		enabled, found = t.Enabled(), true
	}
	return found && enabled
}

// ToggleAudio переключает микрофон. Без аудиодорожки — no-op, возвращает false.
func (s *Session) ToggleAudio() bool { return s.toggle(TrackAudio) }

// ToggleVideo переключает камеру. Без видеодорожки — no-op, возвращает false.
func (s *Session) ToggleVideo() bool { return s.toggle(TrackVideo) }

// Attach привязывает видео к поверхности отображения.
func (s *Session) Attach(surface string) {
	s.mu.Lock()
	s.surface = surface
	s.mu.Unlock()
}

// Release останавливает все дорожки и отвязывает поверхность. Идемпотентен.
func (s *Session) Release() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.surface = ""
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Surface: s.surface}
	for _, t := range s.tracks {
		if t.Stopped() {
			continue
		}
		st.Active = true
		switch t.Kind() {
		case TrackAudio:
			st.HasAudio = true
			st.AudioEnabled = st.AudioEnabled || t.Enabled()
		case TrackVideo:
			st.HasVideo = true
			st.VideoEnabled = st.VideoEnabled || t.Enabled()
		}
	}
	return st
}

// LiveTracks — число не остановленных дорожек.
func (s *Session) LiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}
