package model

import (
	"time"
)

type UserRole string

const (
	Parent      UserRole = "parent"
	Student     UserRole = "student"
	SchoolNurse UserRole = "nurse"
	Manager     UserRole = "manager"
	Admin       UserRole = "admin"
)

// IsClinical reports whether the role may administer medication and read any
// dose instance.
func (r UserRole) IsClinical() bool {
	return r == SchoolNurse || r == Manager || r == Admin
}

// swagger:model User
type User struct {
	BaseModel
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100;unique;not null" json:"email"`
	Password  string    `gorm:"size:100;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('parent','student','nurse','manager','admin');default:'parent'" json:"role"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Avatar    string    `gorm:"size:255" json:"avatar"`
	Disabled  bool      `gorm:"default:false" json:"disabled"`
	LastLogin time.Time `gorm:"default:CURRENT_TIMESTAMP(3)" json:"lastLogin"`
}

func (User) TableName() string {
	return "users"
}

// StudentProfile 学生档案，关联监护人账号
type StudentProfile struct {
	BaseModel
	UserID    *uint  `gorm:"index" json:"userId"` // optional student login account
	ParentID  uint   `gorm:"index;not null" json:"parentId"`
	FullName  string `gorm:"size:100;not null" json:"fullName"`
	ClassName string `gorm:"size:50" json:"className"`
	Allergies string `gorm:"type:text" json:"allergies"`
}

func (StudentProfile) TableName() string {
	return "student_profiles"
}
