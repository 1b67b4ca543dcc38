package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrilink/internal/model"
)

func TestConstraintsFor(t *testing.T) {
	if c := ConstraintsFor(model.CallVideo); !c.Audio || !c.Video {
		t.Fatalf("video constraints = %+v", c)
	}
	if c := ConstraintsFor(model.CallAudio); !c.Audio || c.Video {
		t.Fatalf("audio constraints = %+v", c)
	}
}

func TestSessionToggleAndRelease(t *testing.T) {
	dev := &LocalDevice{}
	s := NewSession(dev)
	if err := s.Acquire(context.Background(), ConstraintsFor(model.CallVideo)); err != nil {
		t.Fatal(err)
	}
	s.Attach("remote-preview")
	if st := s.State(); !st.Active || !st.AudioEnabled || !st.VideoEnabled || st.Surface != "remote-preview" {
		t.Fatalf("state = %+v", st)
	}
	if s.ToggleAudio() {
		t.Fatal("first ToggleAudio should mute")
	}
	if !s.ToggleAudio() {
		t.Fatal("second ToggleAudio should unmute")
	}
	if s.ToggleVideo() {
		t.Fatal("ToggleVideo should disable camera")
	}
	s.Release()
	s.Release()
	if s.LiveTracks() != 0 || dev.InUse() {
		t.Fatal("tracks still live after Release")
	}
	if st := s.State(); st.Active || st.Surface != "" {
		t.Fatalf("state after release = %+v", st)
	}
}

func TestToggleWithoutTrackIsNoop(t *testing.T) {
	s := NewSession(&LocalDevice{})
	if err := s.Acquire(context.Background(), ConstraintsFor(model.CallAudio)); err != nil {
		t.Fatal(err)
	}
	if s.ToggleVideo() {
		t.Fatal("ToggleVideo without a video track must be a no-op")
	}
	if st := s.State(); st.HasVideo || !st.AudioEnabled {
		t.Fatalf("state = %+v", st)
	}
}

func TestPermissionDenied(t *testing.T) {
	s := NewSession(&LocalDevice{DenyVideo: true})
	err := s.Acquire(context.Background(), ConstraintsFor(model.CallVideo))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire = %v, want ErrPermissionDenied", err)
	}
	if s.LiveTracks() != 0 {
		t.Fatal("denied acquire left tracks")
	}
}

func TestDeviceIsExclusive(t *testing.T) {
	dev := &LocalDevice{}
	a, b := NewSession(dev), NewSession(dev)
	if err := a.Acquire(context.Background(), ConstraintsFor(model.CallAudio)); err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(context.Background(), ConstraintsFor(model.CallAudio)); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second Acquire = %v, want ErrDeviceBusy", err)
	}
	a.Release()
	if err := b.Acquire(context.Background(), ConstraintsFor(model.CallAudio)); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestManagerReleasesPreviousSession(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()
	first, err := m.Start(ctx, "u1", ConstraintsFor(model.CallVideo))
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Start(ctx, "u1", ConstraintsFor(model.CallAudio))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if first.LiveTracks() != 0 || second.LiveTracks() != 1 {
		t.Fatalf("live tracks first=%d second=%d", first.LiveTracks(), second.LiveTracks())
	}
	if m.Active() != 1 {
		t.Fatalf("Active = %d", m.Active())
	}
	m.Stop("u1")
	if _, ok := m.Get("u1"); ok || second.LiveTracks() != 0 {
		t.Fatal("Stop did not release the session")
	}
}

func TestNetworkMonitorSamples(t *testing.T) {
	m := NewNetworkMonitor(time.Millisecond, 42)
	counts := map[Quality]int{}
	for i := 0; i < 2000; i++ {
		s := m.Sample()
		if !s.Simulated {
			t.Fatal("sample not marked simulated")
		}
		counts[s.Quality]++
	}
	if counts[QualityGood] <= counts[QualityWeak] || counts[QualityOffline] == 0 {
		t.Fatalf("unexpected distribution: %v", counts)
	}
	if counts[QualityOffline] > 400 {
		t.Fatalf("offline too frequent: %v", counts)
	}
}

func TestNetworkMonitorRun(t *testing.T) {
	m := NewNetworkMonitor(time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Sample, 1)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, func(s Sample) {
			select {
			case got <- s:
			default:
			}
		})
		close(done)
	}()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("no sample emitted")
	}
	cancel()
	<-done
}
