package controller

import (
	"errors"
	"strconv"
	"time"

	"schoolmed_backend/internal/service"
	"schoolmed_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type DoseController struct {
	Admin *service.AdministrationService
}

func NewDoseController(admin *service.AdministrationService) *DoseController {
	return &DoseController{Admin: admin}
}

// Get godoc
// @Summary 查看剂量实例
// @Description 医护可读任意剂量，家长与学生只能读自己相关的
// @Tags 剂量
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "剂量ID"
// @Success 200 {object} util.Response{data=model.DoseInstance} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/doses/{id} [get]
func (c *DoseController) Get(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid dose id")
		return
	}

	dose, err := c.Admin.GetDose(claims.UserID, claims.Role, uint(id))
	if err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Success(ctx, dose)
}

// ListToday godoc
// @Summary 当日待处理剂量列表
// @Description 医护工作台，按优先级降序、应服时间升序
// @Tags 剂量
// @Produce  json
// @Security ApiKeyAuth
// @Param   date query string false "日期（2006-01-02，默认今天）"
// @Success 200 {object} util.Response{data=[]model.DoseInstance} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/today [get]
func (c *DoseController) ListToday(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)

	day := time.Now()
	if raw := ctx.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			util.BadRequest(ctx, "invalid date")
			return
		}
		day = parsed
	}

	doses, err := c.Admin.ListPendingOnDay(ctx.Request.Context(), claims.Role, day)
	if err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Success(ctx, doses)
}

// Administer godoc
// @Summary 给药登记
// @Description 记录一次给药（含拒服），剂量实例转入终态
// @Tags 剂量
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.AdministerRequest true "给药信息"
// @Success 201 {object} util.Response{data=model.AdministrationRecord} "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/administer [post]
func (c *DoseController) Administer(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req service.AdministerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	rec, err := c.Admin.Administer(ctx.Request.Context(), claims.UserID, claims.Role, req)
	if err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Created(ctx, rec)
}

type bulkAdministerRequest struct {
	Items []service.AdministerRequest `json:"items" binding:"required,min=1"`
}

// BulkAdminister godoc
// @Summary 批量给药登记
// @Description 单条失败不影响其余条目，返回逐条结果
// @Tags 剂量
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body bulkAdministerRequest true "给药信息列表"
// @Success 200 {object} util.Response{data=[]service.BulkItemResult} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/administer/bulk [post]
func (c *DoseController) BulkAdminister(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req bulkAdministerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	results := c.Admin.BulkAdminister(ctx.Request.Context(), claims.UserID, claims.Role, req.Items)
	util.Success(ctx, results)
}

type doseNoteRequest struct {
	Notes string `json:"notes"`
}

// QuickComplete godoc
// @Summary 一键完成
// @Description 按处方剂量快速登记完成，不填写详细记录
// @Tags 剂量
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "剂量ID"
// @Param   body body doseNoteRequest false "备注"
// @Success 200 {object} util.Response "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/{id}/complete [post]
func (c *DoseController) QuickComplete(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid dose id")
		return
	}
	var req doseNoteRequest
	_ = ctx.ShouldBindJSON(&req)

	if err := c.Admin.QuickComplete(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Notes); err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// MarkAbsent godoc
// @Summary 标记学生缺勤
// @Description 仅允许在应服当天标记
// @Tags 剂量
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "剂量ID"
// @Param   body body doseNoteRequest false "备注"
// @Success 200 {object} util.Response "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/{id}/absent [post]
func (c *DoseController) MarkAbsent(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid dose id")
		return
	}
	var req doseNoteRequest
	_ = ctx.ShouldBindJSON(&req)

	if err := c.Admin.MarkStudentAbsent(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Notes); err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

type markMissedRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// MarkMissed godoc
// @Summary 标记错过
// @Description 人工标记剂量错过，家长按优先级收到相应措辞的通知
// @Tags 剂量
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "剂量ID"
// @Param   body body markMissedRequest false "原因与备注"
// @Success 200 {object} util.Response "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/doses/{id}/missed [post]
func (c *DoseController) MarkMissed(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid dose id")
		return
	}
	var req markMissedRequest
	_ = ctx.ShouldBindJSON(&req)

	if err := c.Admin.MarkMissed(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Reason, req.Notes); err != nil {
		c.writeDoseError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

func (c *DoseController) writeDoseError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrDoseNotFound), errors.Is(err, util.ErrOrderNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrDoseNotPending),
		errors.Is(err, util.ErrDoseNotToday),
		errors.Is(err, util.ErrOrderNotActive),
		errors.Is(err, util.ErrOrderOutOfWindow),
		errors.Is(err, util.ErrOrderExpired):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
