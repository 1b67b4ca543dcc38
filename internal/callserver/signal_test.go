package callserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agrilink/internal/media"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/repository"
	"github.com/agrilink/internal/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	ch   chan model.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, userID string, typ model.NotificationType, text, ref string) (model.Notification, error) {
	n := model.Notification{UserID: userID, Type: typ, Text: text, ReferenceID: ref}
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	if f.ch != nil {
		f.ch <- n
	}
	return n, nil
}

func (f *fakeNotifier) all() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.sent...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) find(typ, userID string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type != typ {
			continue
		}
		for _, uid := range ev.UserIDs {
			if uid == userID {
				return ev, true
			}
		}
	}
	return Event{}, false
}

type fixture struct {
	svc      *Service
	msgs     *repository.MessageRepository
	notifier *fakeNotifier
	media    *media.Manager
	clock    *clock
	events   *eventLog
}

func newFixture(t *testing.T, cfg Config, devices media.DeviceFactory) *fixture {
	t.Helper()
	users := repository.NewUserDirectory([]model.User{
		{ID: "u1", Name: "farmer", Role: model.RoleFarmer, Avatar: "a1"},
		{ID: "u2", Name: "Ram", Role: model.RoleBuyer, Avatar: "a2"},
		{ID: "u3", Name: "nithin", Role: model.RoleOwner},
	})
	msgs := repository.NewMessageRepository(memory.New())
	if err := msgs.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		msgs:     msgs,
		notifier: &fakeNotifier{},
		media:    media.NewManager(devices),
		clock:    &clock{t: time.UnixMilli(1_700_000_000_000)},
		events:   &eventLog{},
	}
	f.svc = NewService(msgs, f.notifier, users, f.media, cfg).WithClock(f.clock.Now)
	f.svc.Subscribe(f.events.record)
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) systemTexts() []string {
	var out []string
	for _, m := range f.msgs.All() {
		if m.IsSystem {
			out = append(out, m.Text)
		}
	}
	return out
}

func TestCallLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	sig, err := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if sig.Status != model.CallOffering || sig.CallerName != "farmer" || sig.CallerAvatar != "a1" {
		t.Fatalf("signal = %+v", sig)
	}
	if _, ok := f.events.find(EventIncomingCall, "u2"); !ok {
		t.Fatal("receiver did not get incoming_call")
	}

	accepted, err := f.svc.AcceptCall(ctx, sig.ID, "u2")
	if err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if accepted.Status != model.CallAccepted {
		t.Fatalf("status = %s", accepted.Status)
	}
	callerSess, ok := f.media.Get("u1")
	if !ok || callerSess.LiveTracks() != 2 {
		t.Fatal("caller media session not acquired")
	}
	receiverSess, ok := f.media.Get("u2")
	if !ok || receiverSess.LiveTracks() != 2 {
		t.Fatal("receiver media session not acquired")
	}

	f.clock.Advance(95 * time.Second)
	d, err := f.svc.EndCall(ctx, sig.ID, "u1")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if d != 95*time.Second {
		t.Fatalf("duration = %v", d)
	}
	texts := f.systemTexts()
	if len(texts) != 2 || texts[0] != "📞 Started video call" || !strings.Contains(texts[1], "01:35") {
		t.Fatalf("system messages = %q", texts)
	}
	for _, m := range f.msgs.All() {
		if m.IsSystem && m.IsRead != strings.HasPrefix(m.Text, "📞 Call ended") {
			t.Fatalf("system message %q IsRead = %v", m.Text, m.IsRead)
		}
	}
	if _, ok := f.svc.Get(sig.ID); ok {
		t.Fatal("signal not cleared after EndCall")
	}
	if _, ok := f.svc.Active("u1"); ok {
		t.Fatal("caller still has an active call")
	}
	if callerSess.LiveTracks() != 0 || receiverSess.LiveTracks() != 0 {
		t.Fatal("media tracks still live after EndCall")
	}
	if ev, ok := f.events.find(EventCallEnded, "u2"); !ok || ev.Payload.Duration != "01:35" {
		t.Fatalf("call_ended event = %+v, %v", ev, ok)
	}
	if _, err := f.svc.EndCall(ctx, sig.ID, "u1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second EndCall = %v, want ErrInvalidState", err)
	}
}

func TestConcurrentCallGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	if _, err := f.svc.StartCall(ctx, "u1", "u2", model.CallAudio); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("same pair = %v, want ErrInvalidState", err)
	}
	if _, err := f.svc.StartCall(ctx, "u2", "u1", model.CallVideo); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reverse pair = %v, want ErrInvalidState", err)
	}
	if _, err := f.svc.StartCall(ctx, "u3", "u1", model.CallVideo); !errors.Is(err, ErrBusy) {
		t.Fatalf("third party = %v, want ErrBusy", err)
	}
	ev, ok := f.events.find(EventCallRejected, "u3")
	if !ok || ev.Payload.Reason != ReasonBusy || ev.Payload.Call == nil || ev.Payload.Call.Status != model.CallBusy {
		t.Fatalf("busy event = %+v, %v", ev, ok)
	}
	if len(ev.UserIDs) != 1 {
		t.Fatalf("busy event recipients = %v, want caller only", ev.UserIDs)
	}
	if _, ok := f.events.find(EventIncomingCall, "u1"); ok {
		t.Fatal("busy receiver got incoming_call")
	}
	if _, ok := f.svc.Active("u3"); ok {
		t.Fatal("busy call registered")
	}
	if _, err := f.svc.StartCall(ctx, "u1", "u1", model.CallVideo); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("self call = %v, want ErrInvalidState", err)
	}
}

func TestRejectSendsMissedCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	sig, err := f.svc.StartCall(ctx, "u1", "u2", model.CallAudio)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("missed-call notification sent before the call was missed")
	}
	if _, err := f.svc.AcceptCall(ctx, sig.ID, "u1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("caller accept = %v, want ErrInvalidState", err)
	}
	if err := f.svc.RejectCall(ctx, sig.ID, "u2"); err != nil {
		t.Fatalf("RejectCall: %v", err)
	}
	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].UserID != "u2" || sent[0].Type != model.NotificationCallMissed || sent[0].Text != "Missed call from farmer" {
		t.Fatalf("notifications = %+v", sent)
	}
	if _, err := f.svc.AcceptCall(ctx, sig.ID, "u2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accept after reject = %v, want ErrInvalidState", err)
	}
	if _, ok := f.events.find(EventCallRejected, "u1"); !ok {
		t.Fatal("caller not told about rejection")
	}
}

func TestCancelByCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	sig, _ := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo)
	if err := f.svc.CancelCall(ctx, sig.ID, "u2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("receiver cancel = %v", err)
	}
	if err := f.svc.Hangup(ctx, sig.ID, "u1"); err != nil {
		t.Fatalf("Hangup while offering: %v", err)
	}
	if _, ok := f.events.find(EventCallCancelled, "u2"); !ok {
		t.Fatal("receiver not told about cancellation")
	}
	if _, err := f.svc.StartCall(ctx, "u2", "u1", model.CallAudio); err != nil {
		t.Fatalf("new call after cancel: %v", err)
	}
}

func TestRingTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{RingTimeout: 20 * time.Millisecond}, nil)
	f.notifier.ch = make(chan model.Notification, 1)
	sig, err := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-f.notifier.ch:
		if n.UserID != "u2" || n.ReferenceID != sig.ID {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ringing call never timed out")
	}
	if _, ok := f.svc.Get(sig.ID); ok {
		t.Fatal("signal still present after timeout")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		ev, ok := f.events.find(EventCallRejected, "u1")
		if ok {
			if ev.Payload.Reason != ReasonTimeout {
				t.Fatalf("reason = %q, want timeout", ev.Payload.Reason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("caller never got the timeout event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPermissionDeniedKeepsCallAccepted(t *testing.T) {
	ctx := context.Background()
	devices := func(userID string) media.Device {
		return &media.LocalDevice{DenyVideo: userID == "u2"}
	}
	f := newFixture(t, Config{}, devices)
	sig, _ := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo)
	if _, err := f.svc.AcceptCall(ctx, sig.ID, "u2"); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if ev, ok := f.events.find(EventMediaError, "u2"); !ok || ev.Payload.Error == "" {
		t.Fatal("receiver did not get media_error")
	}
	if got, ok := f.svc.Get(sig.ID); !ok || got.Status != model.CallAccepted {
		t.Fatalf("call = %+v, %v; want accepted", got, ok)
	}
	if _, err := f.svc.ToggleVideo(sig.ID, "u2"); err != nil {
		t.Fatalf("ToggleVideo without tracks: %v", err)
	}
	st, err := f.svc.ToggleAudio(sig.ID, "u1")
	if err != nil || st.AudioEnabled {
		t.Fatalf("ToggleAudio = %+v, %v", st, err)
	}
}

func TestEndDuringAcceptReleasesMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	sig, err := f.svc.StartCall(ctx, "u1", "u2", model.CallVideo)
	if err != nil {
		t.Fatal(err)
	}
	// Вторая вкладка кладёт трубку, едва увидев call_accepted, до захвата устройств.
	var once sync.Once
	f.svc.Subscribe(func(ev Event) {
		if ev.Type != EventCallAccepted {
			return
		}
		once.Do(func() {
			if _, err := f.svc.EndCall(ctx, sig.ID, "u1"); err != nil {
				t.Errorf("EndCall from listener: %v", err)
			}
		})
	})
	if _, err := f.svc.AcceptCall(ctx, sig.ID, "u2"); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if _, ok := f.svc.Active("u1"); ok {
		t.Fatal("call still active")
	}
	for _, uid := range []string{"u1", "u2"} {
		if sess, ok := f.media.Get(uid); ok {
			t.Fatalf("user %s keeps a session with %d live tracks after the call ended", uid, sess.LiveTracks())
		}
	}
	if n := f.media.Active(); n != 0 {
		t.Fatalf("manager active sessions = %d, want 0", n)
	}
}

func TestDropUserEndsCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	sig, _ := f.svc.StartCall(ctx, "u1", "u2", model.CallAudio)
	if _, err := f.svc.AcceptCall(ctx, sig.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	f.svc.DropUser(ctx, "u2")
	if _, ok := f.svc.Active("u1"); ok {
		t.Fatal("call survived disconnect")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{95 * time.Second, "01:35"},
		{59*time.Second + 900*time.Millisecond, "00:59"},
		{3725 * time.Second, "62:05"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
