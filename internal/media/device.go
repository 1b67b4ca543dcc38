package media

import (
	"context"
	"sync"
)

// LocalDevice — имитация камеры и микрофона пользователя. Устройство монопольное:
// пока выданные дорожки не остановлены, повторный Open вернёт ErrDeviceBusy.
type LocalDevice struct {
	DenyAudio bool
	DenyVideo bool

	mu   sync.Mutex
	open int
}

func (d *LocalDevice) Open(ctx context.Context, c Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if (c.Audio && d.DenyAudio) || (c.Video && d.DenyVideo) {
		return nil, ErrPermissionDenied
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open > 0 {
		return nil, ErrDeviceBusy
	}
	var tracks []Track
	if c.Audio {
		tracks = append(tracks, &localTrack{dev: d, kind: TrackAudio, enabled: true})
	}
	if c.Video {
		tracks = append(tracks, &localTrack{dev: d, kind: TrackVideo, enabled: true})
	}
	d.open = len(tracks)
	return tracks, nil
}

// InUse сообщает, удерживает ли кто-то дорожки устройства.
func (d *LocalDevice) InUse() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open > 0
}

type localTrack struct {
	dev  *LocalDevice
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *localTrack) Kind() TrackKind { return t.kind }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

func (t *localTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.enabled = v
	}
}

func (t *localTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()

	t.dev.mu.Lock()
	t.dev.open--
	t.dev.mu.Unlock()
}

func (t *localTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
