package repository

import (
	"slices"
	"sync"

	"github.com/agrilink/internal/model"
)

// UserDirectory — демо-пользователи в памяти. Пароли сравниваются открытым текстом.
type UserDirectory struct {
	mu    sync.RWMutex
	users []model.User
}

func NewUserDirectory(users []model.User) *UserDirectory {
	return &UserDirectory{users: slices.Clone(users)}
}

func (d *UserDirectory) GetByID(id string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.users {
		if d.users[i].ID == id {
			u := d.users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// Authenticate возвращает пользователя при совпадении id и пароля.
func (d *UserDirectory) Authenticate(id, password string) (*model.User, bool) {
	u, err := d.GetByID(id)
	if err != nil || u.Password != password {
		return nil, false
	}
	return u, true
}

// List — публичные профили; пустая роль означает «все».
func (d *UserDirectory) List(role model.Role) []model.UserPublic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.UserPublic, 0, len(d.users))
	for i := range d.users {
		if role == "" || d.users[i].Role == role {
			out = append(out, d.users[i].ToPublic())
		}
	}
	return out
}

// Add регистрирует пользователя (замена при совпадении id).
func (d *UserDirectory) Add(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.users {
		if d.users[i].ID == u.ID {
			d.users[i] = u
			return
		}
	}
	d.users = append(d.users, u)
}
