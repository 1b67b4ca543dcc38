package callserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/media"
	"github.com/agrilink/internal/model"
)

var (
	// ErrInvalidState — переход недопустим из текущего состояния (или звонка уже нет).
	// Транспорт воспринимает её как no-op: сигналы гоняются между клиентами.
	ErrInvalidState = errors.New("invalid call state transition")
	// ErrBusy — один из участников уже в другом звонке.
	ErrBusy = errors.New("user is busy")
)

// Типы событий звонка (исходящие).
const (
	EventIncomingCall  = "incoming_call"
	EventCallStarted   = "call_started"
	EventCallAccepted  = "call_accepted"
	EventCallRejected  = "call_rejected"
	EventCallCancelled = "call_cancelled"
	EventCallEnded     = "call_ended"
	EventNetwork       = "network_quality"
	EventMediaState    = "media_state"
	EventMediaError    = "media_error"
)

// Причины отклонения.
const (
	ReasonRejected = "rejected"
	ReasonTimeout  = "timeout"
	ReasonCancel   = "cancelled"
	ReasonBusy     = "busy"
)

// MessageWriter добавляет системные сообщения в переписку.
type MessageWriter interface {
	Append(ctx context.Context, m *model.Message) error
}

// Notifier создаёт уведомление о пропущенном звонке.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType, text, referenceID string) (model.Notification, error)
}

// UserLookup — профиль звонящего для снимка имени и аватара.
type UserLookup interface {
	GetByID(id string) (*model.User, error)
}

// Observer — метрики звонков.
type Observer interface {
	CallStarted(t model.CallType)
	CallFinished(outcome string, d time.Duration)
}

// EventPayload — тело события; заполняются только нужные поля.
type EventPayload struct {
	Call            *model.CallSignal `json:"call,omitempty"`
	CallID          string            `json:"call_id"`
	Reason          string            `json:"reason,omitempty"`
	Duration        string            `json:"duration,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	Network         *media.Sample     `json:"network,omitempty"`
	Media           *media.State      `json:"media,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Event адресовано пользователям UserIDs.
type Event struct {
	Type    string
	UserIDs []string
	Payload EventPayload
}

type Listener func(Event)

// Config — параметры сервиса звонков.
type Config struct {
	RingTimeout     time.Duration
	NetworkInterval time.Duration
}

type callEntry struct {
	signal    model.CallSignal
	ring      *time.Timer
	stopWatch context.CancelFunc
}

// Service — автомат состояний звонка: offering → accepted | rejected; accepted → ended;
// offering → сброс (отмена звонящим). Завершённые сигналы удаляются, в переписке остаются
// только системные сообщения.
type Service struct {
	msgs     MessageWriter
	notifier Notifier
	users    UserLookup
	media    *media.Manager
	observer Observer
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	calls     map[string]*callEntry
	listeners []Listener
}

func NewService(msgs MessageWriter, notifier Notifier, users UserLookup, mm *media.Manager, cfg Config) *Service {
	if cfg.NetworkInterval <= 0 {
		cfg.NetworkInterval = media.DefaultSampleInterval
	}
	if mm == nil {
		mm = media.NewManager(nil)
	}
	return &Service{
		msgs:     msgs,
		notifier: notifier,
		users:    users,
		media:    mm,
		cfg:      cfg,
		now:      time.Now,
		calls:    make(map[string]*callEntry),
	}
}

// WithClock подменяет часы (тесты).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// Subscribe регистрирует получателя событий (ws-хабы).
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Service) emit(typ string, payload EventPayload, userIDs ...string) {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	ev := Event{Type: typ, UserIDs: userIDs, Payload: payload}
	for _, l := range listeners {
		l(ev)
	}
}

// StartCall создаёт сигнал offering. Второй звонок между той же парой, пока первый не завершён,
// отклоняется с ErrInvalidState; участник другого звонка — ErrBusy.
func (s *Service) StartCall(ctx context.Context, callerID, receiverID string, typ model.CallType) (model.CallSignal, error) {
	if !typ.Valid() {
		return model.CallSignal{}, fmt.Errorf("callserver.StartCall: unknown call type %q", typ)
	}
	if callerID == "" || receiverID == "" || callerID == receiverID {
		return model.CallSignal{}, fmt.Errorf("callserver.StartCall: %w: bad participants", ErrInvalidState)
	}
	caller, err := s.users.GetByID(callerID)
	if err != nil {
		return model.CallSignal{}, fmt.Errorf("callserver.StartCall caller: %w", err)
	}
	if _, err := s.users.GetByID(receiverID); err != nil {
		return model.CallSignal{}, fmt.Errorf("callserver.StartCall receiver: %w", err)
	}

	sig := model.CallSignal{
		ID:           uuid.New().String(),
		CallerID:     callerID,
		CallerName:   caller.Name,
		CallerAvatar: caller.Avatar,
		ReceiverID:   receiverID,
		Type:         typ,
		Status:       model.CallOffering,
		Timestamp:    s.now().UnixMilli(),
	}

	s.mu.Lock()
	for _, e := range s.calls {
		if e.signal.Involves(callerID) && e.signal.Involves(receiverID) {
			s.mu.Unlock()
			return model.CallSignal{}, fmt.Errorf("callserver.StartCall: %w: call %s already %s", ErrInvalidState, e.signal.ID, e.signal.Status)
		}
		if e.signal.Involves(callerID) || e.signal.Involves(receiverID) {
			s.mu.Unlock()
			s.busy(sig)
			return model.CallSignal{}, ErrBusy
		}
	}
	entry := &callEntry{signal: sig}
	if s.cfg.RingTimeout > 0 {
		id := sig.ID
		entry.ring = time.AfterFunc(s.cfg.RingTimeout, func() { s.expire(id) })
	}
	s.calls[sig.ID] = entry
	s.mu.Unlock()

	s.appendSystem(ctx, callerID, receiverID, fmt.Sprintf("📞 Started %s call", typ), false)
	if s.observer != nil {
		s.observer.CallStarted(typ)
	}
	logger.Infof("call started call_id=%s from=%s to=%s type=%s", sig.ID, callerID, receiverID, typ)
	s.emit(EventIncomingCall, EventPayload{Call: &sig, CallID: sig.ID}, receiverID)
	s.emit(EventCallStarted, EventPayload{Call: &sig, CallID: sig.ID}, callerID)
	return sig, nil
}

// busy сообщает звонящему, что звонок не состоялся. Сигнал не регистрируется,
// получатель ничего не узнаёт.
func (s *Service) busy(sig model.CallSignal) {
	sig.Status = model.CallBusy
	logger.Infof("call busy from=%s to=%s", sig.CallerID, sig.ReceiverID)
	if s.observer != nil {
		s.observer.CallFinished(ReasonBusy, 0)
	}
	s.emit(EventCallRejected, EventPayload{Call: &sig, CallID: sig.ID, Reason: ReasonBusy}, sig.CallerID)
}

// AcceptCall — только получатель и только из offering. Оба участника захватывают медиа;
// отказ в доступе к устройству не прерывает звонок.
func (s *Service) AcceptCall(ctx context.Context, callID, userID string) (model.CallSignal, error) {
	s.mu.Lock()
	e, ok := s.calls[callID]
	if !ok || e.signal.Status != model.CallOffering || e.signal.ReceiverID != userID {
		s.mu.Unlock()
		return model.CallSignal{}, fmt.Errorf("callserver.AcceptCall %s: %w", callID, ErrInvalidState)
	}
	if e.ring != nil {
		e.ring.Stop()
	}
	e.signal.Status = model.CallAccepted
	e.signal.AcceptedAt = s.now().UnixMilli()
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopWatch = cancel
	sig := e.signal
	s.mu.Unlock()

	logger.Infof("call accepted call_id=%s by=%s", callID, userID)
	s.emit(EventCallAccepted, EventPayload{Call: &sig, CallID: callID}, sig.CallerID, sig.ReceiverID)

	for _, uid := range []string{sig.CallerID, sig.ReceiverID} {
		s.startMedia(ctx, callID, uid, sig.Type)
	}
	monitor := media.NewNetworkMonitor(s.cfg.NetworkInterval, uint64(s.now().UnixNano()))
	go monitor.Run(watchCtx, func(sample media.Sample) {
		s.emit(EventNetwork, EventPayload{CallID: callID, Network: &sample}, sig.CallerID, sig.ReceiverID)
	})
	return sig, nil
}

func (s *Service) startMedia(ctx context.Context, callID, userID string, typ model.CallType) {
	sess, err := s.media.Start(ctx, userID, media.ConstraintsFor(typ))
	// Звонок могли завершить, пока захватывались устройства: EndCall уже отработал media.Stop.
	s.mu.Lock()
	e, ok := s.calls[callID]
	live := ok && e.signal.Status == model.CallAccepted
	s.mu.Unlock()
	if !live {
		s.media.Stop(userID)
		logger.Infof("call media call_id=%s user_id=%s: call finished during acquire, released", callID, userID)
		return
	}
	if err != nil {
		logger.Warnf("call media call_id=%s user_id=%s: %v", callID, userID, err)
		s.emit(EventMediaError, EventPayload{CallID: callID, Error: mediaErrorText(err)}, userID)
		return
	}
	st := sess.State()
	s.emit(EventMediaState, EventPayload{CallID: callID, Media: &st}, userID)
}

func mediaErrorText(err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return "Could not access camera/microphone. Please allow permissions."
	case errors.Is(err, media.ErrDeviceBusy):
		return "Camera or microphone is in use by another call."
	}
	return "Media unavailable"
}

// take удаляет звонок, если check разрешает переход.
func (s *Service) take(callID string, check func(sig model.CallSignal) bool) (*callEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[callID]
	if !ok || !check(e.signal) {
		return nil, false
	}
	delete(s.calls, callID)
	if e.ring != nil {
		e.ring.Stop()
	}
	if e.stopWatch != nil {
		e.stopWatch()
	}
	return e, true
}

// RejectCall — получатель отклоняет звонок в состоянии offering.
func (s *Service) RejectCall(ctx context.Context, callID, userID string) error {
	e, ok := s.take(callID, func(sig model.CallSignal) bool {
		return sig.Status == model.CallOffering && sig.ReceiverID == userID
	})
	if !ok {
		return fmt.Errorf("callserver.RejectCall %s: %w", callID, ErrInvalidState)
	}
	s.missed(ctx, e.signal, ReasonRejected, EventCallRejected)
	return nil
}

// CancelCall — звонящий отменяет звонок до ответа.
func (s *Service) CancelCall(ctx context.Context, callID, userID string) error {
	e, ok := s.take(callID, func(sig model.CallSignal) bool {
		return sig.Status == model.CallOffering && sig.CallerID == userID
	})
	if !ok {
		return fmt.Errorf("callserver.CancelCall %s: %w", callID, ErrInvalidState)
	}
	s.missed(ctx, e.signal, ReasonCancel, EventCallCancelled)
	return nil
}

// expire — никто не ответил за RingTimeout.
func (s *Service) expire(callID string) {
	e, ok := s.take(callID, func(sig model.CallSignal) bool { return sig.Status == model.CallOffering })
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.missed(ctx, e.signal, ReasonTimeout, EventCallRejected)
}

// missed завершает неотвеченный звонок: уведомление получателю, событие обоим.
func (s *Service) missed(ctx context.Context, sig model.CallSignal, reason, event string) {
	sig.Status = model.CallRejected
	logger.Infof("call %s call_id=%s from=%s to=%s", reason, sig.ID, sig.CallerID, sig.ReceiverID)
	if s.notifier != nil {
		if _, err := s.notifier.Notify(ctx, sig.ReceiverID, model.NotificationCallMissed,
			"Missed call from "+sig.CallerName, sig.ID); err != nil {
			logger.Errorf("call missed notify call_id=%s: %v", sig.ID, err)
		}
	}
	if s.observer != nil {
		s.observer.CallFinished(reason, 0)
	}
	s.emit(event, EventPayload{Call: &sig, CallID: sig.ID, Reason: reason}, sig.CallerID, sig.ReceiverID)
}

// EndCall завершает принятый звонок любым участником; из offering работает как отмена или отклонение.
// Длительность считается от момента принятия.
func (s *Service) EndCall(ctx context.Context, callID, userID string) (time.Duration, error) {
	s.mu.Lock()
	e, ok := s.calls[callID]
	var status model.CallStatus
	var receiver string
	if ok {
		status, receiver = e.signal.Status, e.signal.ReceiverID
	}
	s.mu.Unlock()
	if ok && status == model.CallOffering {
		if userID == receiver {
			return 0, s.RejectCall(ctx, callID, userID)
		}
		return 0, s.CancelCall(ctx, callID, userID)
	}

	e, ok = s.take(callID, func(sig model.CallSignal) bool {
		return sig.Status == model.CallAccepted && sig.Involves(userID)
	})
	if !ok {
		return 0, fmt.Errorf("callserver.EndCall %s: %w", callID, ErrInvalidState)
	}
	sig := e.signal
	sig.Status = model.CallEnded
	d := s.now().Sub(time.UnixMilli(sig.AcceptedAt))
	if d < 0 {
		d = 0
	}
	s.media.Stop(sig.CallerID)
	s.media.Stop(sig.ReceiverID)

	// Итог звонка видели оба участника, в счётчик непрочитанных он не попадает.
	text := "📞 Call ended • Duration: " + FormatDuration(d)
	s.appendSystem(ctx, userID, sig.Peer(userID), text, true)
	if s.observer != nil {
		s.observer.CallFinished("ended", d)
	}
	logger.Infof("call ended call_id=%s by=%s duration=%s", callID, userID, FormatDuration(d))
	s.emit(EventCallEnded, EventPayload{
		Call: &sig, CallID: callID, Duration: FormatDuration(d), DurationSeconds: int(d / time.Second),
	}, sig.CallerID, sig.ReceiverID)
	return d, nil
}

// Hangup — «положить трубку» без знания состояния: отмена, отклонение или завершение.
func (s *Service) Hangup(ctx context.Context, callID, userID string) error {
	_, err := s.EndCall(ctx, callID, userID)
	return err
}

// DropUser завершает все звонки пользователя (отключение клиента).
func (s *Service) DropUser(ctx context.Context, userID string) {
	s.mu.Lock()
	var ids []string
	for id, e := range s.calls {
		if e.signal.Involves(userID) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Hangup(ctx, id, userID); err != nil && !errors.Is(err, ErrInvalidState) {
			logger.Errorf("call drop call_id=%s: %v", id, err)
		}
	}
}

// Active — незавершённый звонок пользователя.
func (s *Service) Active(userID string) (model.CallSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.calls {
		if e.signal.Involves(userID) {
			return e.signal, true
		}
	}
	return model.CallSignal{}, false
}

// Get возвращает сигнал по id.
func (s *Service) Get(callID string) (model.CallSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[callID]
	if !ok {
		return model.CallSignal{}, false
	}
	return e.signal, true
}

// ToggleAudio переключает микрофон участника принятого звонка.
func (s *Service) ToggleAudio(callID, userID string) (media.State, error) {
	return s.toggle(callID, userID, (*media.Session).ToggleAudio)
}

// ToggleVideo переключает камеру участника принятого звонка.
func (s *Service) ToggleVideo(callID, userID string) (media.State, error) {
	return s.toggle(callID, userID, (*media.Session).ToggleVideo)
}

func (s *Service) toggle(callID, userID string, fn func(*media.Session) bool) (media.State, error) {
	sig, ok := s.Get(callID)
	if !ok || sig.Status != model.CallAccepted || !sig.Involves(userID) {
		return media.State{}, fmt.Errorf("callserver.toggle %s: %w", callID, ErrInvalidState)
	}
	sess, ok := s.media.Get(userID)
	if !ok {
		return media.State{}, nil
	}
	fn(sess)
	st := sess.State()
	s.emit(EventMediaState, EventPayload{CallID: callID, Media: &st}, userID)
	return st, nil
}

// Close останавливает таймеры и освобождает медиа.
func (s *Service) Close() {
	s.mu.Lock()
	for id, e := range s.calls {
		if e.ring != nil {
			e.ring.Stop()
		}
		if e.stopWatch != nil {
			e.stopWatch()
		}
		delete(s.calls, id)
	}
	s.mu.Unlock()
	s.media.StopAll()
}

func (s *Service) appendSystem(ctx context.Context, from, to, text string, read bool) {
	if s.msgs == nil {
		return
	}
	m := &model.Message{
		SenderID:   from,
		ReceiverID: to,
		Text:       text,
		IsSystem:   true,
		IsRead:     read,
		Payload:    &model.Payload{Kind: model.PayloadSystem, Text: text},
	}
	if err := s.msgs.Append(ctx, m); err != nil {
		logger.Errorf("call system message %s→%s: %v", from, to, err)
	}
}

// FormatDuration — MM:SS; минуты не ограничены сверху.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
