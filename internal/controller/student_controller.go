package controller

import (
	"schoolmed_backend/internal/model"
	"schoolmed_backend/internal/repository"
	"schoolmed_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StudentController struct {
	Users *repository.UserRepository
}

func NewStudentController(users *repository.UserRepository) *StudentController {
	return &StudentController{Users: users}
}

type createStudentRequest struct {
	FullName  string `json:"fullName" binding:"required"`
	ClassName string `json:"className"`
	Allergies string `json:"allergies"`
}

// Create godoc
// @Summary 登记学生档案
// @Description 家长为自己的孩子建立学生档案
// @Tags 学生
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body createStudentRequest true "学生信息"
// @Success 201 {object} util.Response{data=model.StudentProfile} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/students [post]
func (c *StudentController) Create(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req createStudentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	student := &model.StudentProfile{
		ParentID:  claims.UserID,
		FullName:  req.FullName,
		ClassName: req.ClassName,
		Allergies: req.Allergies,
	}
	if err := c.Users.CreateStudent(student); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, student)
}

// List godoc
// @Summary 我的学生列表
// @Tags 学生
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.StudentProfile} "成功"
// @Router /api/students [get]
func (c *StudentController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	students, err := c.Users.FindStudentsByParent(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, students)
}
