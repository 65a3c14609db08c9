package repository

import (
	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.DB.Create(user).Error
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var user model.User
	err := r.DB.First(&user, id).Error
	return &user, err
}

func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("email = ?", email).First(&user).Error
	return &user, err
}

func (r *UserRepository) Update(user *model.User) error {
	return r.DB.Save(user).Error
}

func (r *UserRepository) FindActiveByRole(roles ...model.UserRole) ([]*model.User, error) {
	var users []*model.User
	err := r.DB.Where("role IN ? AND disabled = ?", roles, false).Find(&users).Error
	return users, err
}

func (r *UserRepository) CreateStudent(profile *model.StudentProfile) error {
	return r.DB.Create(profile).Error
}

func (r *UserRepository) FindStudentByID(id uint) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	err := r.DB.First(&profile, id).Error
	return &profile, err
}

func (r *UserRepository) FindStudentByUserID(userID uint) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	err := r.DB.Where("user_id = ?", userID).First(&profile).Error
	return &profile, err
}

func (r *UserRepository) FindStudentsByParent(parentID uint) ([]*model.StudentProfile, error) {
	var profiles []*model.StudentProfile
	err := r.DB.Where("parent_id = ?", parentID).Find(&profiles).Error
	return profiles, err
}
