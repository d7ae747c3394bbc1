package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_MEMBER    = "member"
	ROLE_TREASURER = "treasurer"
	ROLE_ADMIN     = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type Member struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email        string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password     string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role         string         `gorm:"type:varchar(50);default:'member'" json:"role" validate:"oneof=member treasurer admin"`
	Status       string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	MemberNumber string         `gorm:"type:varchar(50);index" json:"member_number"`
	JoinedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"joined_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *Member) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

func CreateMember(name string, email string, password string) (*Member, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	return &Member{
		Name:     name,
		Email:    email,
		Password: pw,
		Role:     ROLE_MEMBER,
		Status:   STATUS_ACTIVE,
	}, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (m *Member) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(m.Password), []byte(password)) == nil
}
