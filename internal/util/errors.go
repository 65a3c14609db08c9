package util

import "errors"

var (
	ErrUserNotFound     = errors.New("用户不存在")
	ErrEmailRegistered  = errors.New("该邮箱已被注册")
	ErrPermissionDenied = errors.New("permission denied")

	ErrOrderNotFound    = errors.New("medication order not found")
	ErrOrderNotActive   = errors.New("medication order is not active")
	ErrOrderOutOfWindow = errors.New("medication order is outside its administration window")
	ErrOrderExpired     = errors.New("medication has passed its expiry date")
	ErrOrderNotPending  = errors.New("medication order is not awaiting approval")

	ErrDoseNotFound   = errors.New("dose instance not found")
	ErrDoseNotPending = errors.New("dose instance is not pending")
	ErrDoseNotToday   = errors.New("operation only allowed on the scheduled day")

	ErrIncidentNotFound = errors.New("health incident not found")
	ErrStudentNotFound  = errors.New("student profile not found")
)
