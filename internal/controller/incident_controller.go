package controller

import (
	"errors"
	"strconv"

	"schoolmed_backend/internal/service"
	"schoolmed_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type IncidentController struct {
	Incidents *service.IncidentService
}

func NewIncidentController(incidents *service.IncidentService) *IncidentController {
	return &IncidentController{Incidents: incidents}
}

// Report godoc
// @Summary 上报健康事件
// @Description 上报后立即通知在岗医护，超时无人认领将升级给管理层
// @Tags 健康事件
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.ReportIncidentRequest true "事件信息"
// @Success 201 {object} util.Response{data=model.HealthIncident} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/incidents [post]
func (c *IncidentController) Report(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req service.ReportIncidentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	inc, err := c.Incidents.Report(ctx.Request.Context(), claims.UserID, &req)
	if err != nil {
		if errors.Is(err, util.ErrStudentNotFound) {
			util.NotFound(ctx)
		} else {
			util.BadRequest(ctx, err.Error())
		}
		return
	}
	util.Created(ctx, inc)
}

// List godoc
// @Summary 近期健康事件列表
// @Tags 健康事件
// @Produce  json
// @Security ApiKeyAuth
// @Param   limit query int false "数量上限（默认50）"
// @Success 200 {object} util.Response{data=[]model.HealthIncident} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/incidents [get]
func (c *IncidentController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	incs, err := c.Incidents.ListRecent(claims.Role, limit)
	if err != nil {
		c.writeIncidentError(ctx, err)
		return
	}
	util.Success(ctx, incs)
}

// Get godoc
// @Summary 查看健康事件
// @Tags 健康事件
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "事件ID"
// @Success 200 {object} util.Response{data=model.HealthIncident} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/incidents/{id} [get]
func (c *IncidentController) Get(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid incident id")
		return
	}

	inc, err := c.Incidents.Get(claims.UserID, claims.Role, uint(id))
	if err != nil {
		c.writeIncidentError(ctx, err)
		return
	}
	util.Success(ctx, inc)
}

// Assign godoc
// @Summary 认领健康事件
// @Description 医护认领后事件转入处理中，升级广播停止
// @Tags 健康事件
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "事件ID"
// @Success 200 {object} util.Response{data=model.HealthIncident} "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/incidents/{id}/assign [post]
func (c *IncidentController) Assign(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid incident id")
		return
	}

	inc, err := c.Incidents.Assign(ctx.Request.Context(), claims.UserID, claims.Role, uint(id))
	if err != nil {
		c.writeIncidentError(ctx, err)
		return
	}
	util.Success(ctx, inc)
}

type completeIncidentRequest struct {
	Resolution string `json:"resolution"`
}

// Complete godoc
// @Summary 完结健康事件
// @Description 当前处理人或管理员结案，关联通知延迟后清理
// @Tags 健康事件
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "事件ID"
// @Param   body body completeIncidentRequest false "处理结果"
// @Success 200 {object} util.Response{data=model.HealthIncident} "成功"
// @Failure 400 {object} util.Response "状态不允许"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/incidents/{id}/complete [post]
func (c *IncidentController) Complete(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid incident id")
		return
	}
	var req completeIncidentRequest
	_ = ctx.ShouldBindJSON(&req)

	inc, err := c.Incidents.Complete(ctx.Request.Context(), claims.UserID, claims.Role, uint(id), req.Resolution)
	if err != nil {
		c.writeIncidentError(ctx, err)
		return
	}
	util.Success(ctx, inc)
}

func (c *IncidentController) writeIncidentError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrIncidentNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.BadRequest(ctx, err.Error())
	}
}
