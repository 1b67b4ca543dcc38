package media

import (
	"context"
	"sync"
)

// DeviceFactory выдаёт устройство пользователя.
type DeviceFactory func(userID string) Device

// Manager держит не более одной сессии на пользователя.
// Новая сессия создаётся только после освобождения предыдущей.
type Manager struct {
	factory DeviceFactory

	mu       sync.Mutex
	devices  map[string]Device
	sessions map[string]*Session
}

func NewManager(factory DeviceFactory) *Manager {
	if factory == nil {
		factory = func(string) Device { return &LocalDevice{} }
	}
	return &Manager{
		factory:  factory,
		devices:  make(map[string]Device),
		sessions: make(map[string]*Session),
	}
}

// Start освобождает текущую сессию пользователя и захватывает устройство заново.
// При ошибке сессия остаётся зарегистрированной без дорожек (звонок продолжается без медиа).
func (m *Manager) Start(ctx context.Context, userID string, c Constraints) (*Session, error) {
	m.mu.Lock()
	if old, ok := m.sessions[userID]; ok {
		old.Release()
	}
	dev, ok := m.devices[userID]
	if !ok {
		dev = m.factory(userID)
		m.devices[userID] = dev
	}
	s := NewSession(dev)
	m.sessions[userID] = s
	m.mu.Unlock()

	err := s.Acquire(ctx, c)
	m.mu.Lock()
	current := m.sessions[userID]
	m.mu.Unlock()
	if current != s {
		// Пока ждали устройство, сессию остановили или заменили.
		s.Release()
	}
	return s, err
}

// Get возвращает текущую сессию пользователя.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Stop освобождает устройства пользователя.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		s.Release()
	}
}

// StopAll — при остановке сервиса.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Release()
	}
}

// Active — число пользователей с захваченными дорожками.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.LiveTracks() > 0 {
			n++
		}
	}
	return n
}
