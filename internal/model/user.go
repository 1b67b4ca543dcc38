package model

type Role string

const (
	RoleFarmer Role = "FARMER"
	RoleBuyer  Role = "BUYER"
	RoleOwner  Role = "OWNER"
)

// User — демо-пользователь. Пароль хранится открытым текстом и проверяется в памяти.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`
	Location string `json:"location" yaml:"location"`
	Avatar   string `json:"avatar" yaml:"avatar"`
	Password string `json:"-" yaml:"password"`
}

type UserPublic struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Location string `json:"location"`
	Avatar   string `json:"avatar"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:       u.ID,
		Name:     u.Name,
		Role:     u.Role,
		Location: u.Location,
		Avatar:   u.Avatar,
	}
}
