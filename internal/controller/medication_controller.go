package controller

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"schoolmed_backend/internal/service"
	"schoolmed_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MedicationController struct {
	Medication *service.MedicationService
	Storage    service.StorageProvider
}

func NewMedicationController(medication *service.MedicationService, storage service.StorageProvider) *MedicationController {
	return &MedicationController{Medication: medication, Storage: storage}
}

// Create godoc
// @Summary 提交用药申请
// @Description 家长为孩子提交用药申请单，等待医护审批
// @Tags 用药
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.CreateOrderRequest true "用药申请信息"
// @Success 201 {object} util.Response{data=model.MedicationOrder} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications [post]
func (c *MedicationController) Create(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req service.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	order, err := c.Medication.CreateOrder(ctx.Request.Context(), claims.UserID, &req)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrStudentNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(ctx)
		default:
			util.BadRequest(ctx, err.Error())
		}
		return
	}
	util.Created(ctx, order)
}

// List godoc
// @Summary 我的用药申请列表
// @Description 家长查看自己提交的全部申请单
// @Tags 用药
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.MedicationOrder} "成功"
// @Router /api/medications [get]
func (c *MedicationController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	orders, err := c.Medication.ListForParent(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, orders)
}

// ListPending godoc
// @Summary 待审批申请列表
// @Description 医护查看所有等待审批的申请单
// @Tags 用药
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.MedicationOrder} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications/pending [get]
func (c *MedicationController) ListPending(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	orders, err := c.Medication.ListPendingApproval(claims.Role)
	if err != nil {
		if errors.Is(err, util.ErrPermissionDenied) {
			util.Forbidden(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, orders)
}

// Get godoc
// @Summary 查看申请单
// @Tags 用药
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请单ID"
// @Success 200 {object} util.Response{data=model.MedicationOrder} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/medications/{id} [get]
func (c *MedicationController) Get(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid order id")
		return
	}

	order, err := c.Medication.GetOrder(claims.UserID, claims.Role, uint(id))
	if err != nil {
		c.writeOrderError(ctx, err)
		return
	}
	util.Success(ctx, order)
}

// Approve godoc
// @Summary 批准申请单
// @Description 医护批准后，开始日期已到的单据立即生效并生成排程
// @Tags 用药
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请单ID"
// @Success 200 {object} util.Response{data=model.MedicationOrder} "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications/{id}/approve [post]
func (c *MedicationController) Approve(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid order id")
		return
	}

	order, err := c.Medication.Approve(ctx.Request.Context(), claims.UserID, claims.Role, uint(id))
	if err != nil {
		c.writeOrderError(ctx, err)
		return
	}
	util.Success(ctx, order)
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

// Reject godoc
// @Summary 驳回申请单
// @Tags 用药
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请单ID"
// @Param   body body reviewRequest false "驳回原因"
// @Success 200 {object} util.Response{data=model.MedicationOrder} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications/{id}/reject [post]
func (c *MedicationController) Reject(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid order id")
		return
	}
	var req reviewRequest
	_ = ctx.ShouldBindJSON(&req)

	order, err := c.Medication.Reject(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Reason)
	if err != nil {
		c.writeOrderError(ctx, err)
		return
	}
	util.Success(ctx, order)
}

// Discontinue godoc
// @Summary 停用申请单
// @Description 停用生效中的单据并取消其剩余待处理剂量
// @Tags 用药
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请单ID"
// @Param   body body reviewRequest false "停用原因"
// @Success 200 {object} util.Response{data=model.MedicationOrder} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications/{id}/discontinue [post]
func (c *MedicationController) Discontinue(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid order id")
		return
	}
	var req reviewRequest
	_ = ctx.ShouldBindJSON(&req)

	order, err := c.Medication.Discontinue(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Reason)
	if err != nil {
		c.writeOrderError(ctx, err)
		return
	}
	util.Success(ctx, order)
}

// GenerateSchedule godoc
// @Summary 手动补全排程
// @Description 对一张生效单据立即补全整段剂量排程，幂等
// @Tags 用药
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "申请单ID"
// @Success 200 {object} util.Response{data=service.GenerationResult} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/medications/{id}/generate [post]
func (c *MedicationController) GenerateSchedule(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid order id")
		return
	}

	result, err := c.Medication.GenerateSchedule(ctx.Request.Context(), claims.Role, uint(id))
	if err != nil {
		c.writeOrderError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// UploadAttachment godoc
// @Summary 上传处方单照片
// @Tags 用药
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   file formData file true "处方单照片"
// @Success 200 {object} util.Response{data=object} "成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/medications/attachments [post]
func (c *MedicationController) UploadAttachment(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}

	src, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	filename := fmt.Sprintf("prescriptions/%s/%s%s",
		time.Now().Format("200601"), uuid.NewString(), filepath.Ext(file.Filename))
	url, err := c.Storage.Upload(ctx.Request.Context(), filename, src, file.Size,
		file.Header.Get("Content-Type"))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"url": url})
}

func (c *MedicationController) writeOrderError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrOrderNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrOrderNotPending), errors.Is(err, util.ErrOrderNotActive):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
