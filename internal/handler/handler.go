package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/job"
	"groupbuy/internal/service"
	"groupbuy/pkg/response"
)

// Sweeper 手动触发过期扫描
type Sweeper interface {
	RunOnce(ctx context.Context) (*job.SweepResult, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	groupBuyService *service.GroupBuyService
	orderService    *service.OrderService
	walletService   *service.WalletService
	sweeper         Sweeper
	log             *logger.Logger
}

func NewHandler(
	groupBuyService *service.GroupBuyService,
	orderService *service.OrderService,
	walletService *service.WalletService,
	sweeper Sweeper,
	log *logger.Logger,
) *Handler {
	return &Handler{
		groupBuyService: groupBuyService,
		orderService:    orderService,
		walletService:   walletService,
		sweeper:         sweeper,
		log:             log.Named("http"),
	}
}

// writeError 业务错误原样返回码和信息，其余错误只记日志
func (h *Handler) writeError(c *gin.Context, err error) {
	var svcErr *service.Error
	switch {
	case errors.As(err, &svcErr):
		response.BusinessError(c, svcErr.Code, svcErr.Message)
	case errors.Is(err, job.ErrSweepInProgress):
		response.BusinessError(c, response.CodeSweepInProgress, err.Error())
	default:
		h.log.WithContext(c.Request.Context()).Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.ServerError(c, "服务器内部错误")
	}
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

// ============================================================
// 拼团相关接口
// ============================================================

// PurchaseRequest 开团/参团请求，group_id 为空表示开团
type PurchaseRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	GoodsID  int64  `json:"goods_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"omitempty,min=1,max=999"`
	GroupID  string `json:"group_id"`
}

// Purchase 开团或参团
// POST /api/v1/group/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	result, err := h.groupBuyService.RequestGroupPurchase(c.Request.Context(), &service.PurchaseRequest{
		UserID:      req.UserID,
		GoodsID:     req.GoodsID,
		Quantity:    req.Quantity,
		JoinGroupID: req.GroupID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GetGroup 拼团详情
// GET /api/v1/group/detail?group_id=xxx
func (h *Handler) GetGroup(c *gin.Context) {
	groupID := c.Query("group_id")
	if groupID == "" {
		response.ParamError(c, "group_id 参数不能为空")
		return
	}

	detail, err := h.groupBuyService.GetGroupStatus(c.Request.Context(), groupID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, detail)
}

// ListGroups 商品下可加入的团
// GET /api/v1/group/list?goods_id=xxx&limit=20
func (h *Handler) ListGroups(c *gin.Context) {
	goodsID, ok := queryInt64(c, "goods_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	groups, err := h.groupBuyService.ListOpenGroups(c.Request.Context(), goodsID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  groups,
		"total": len(groups),
	})
}

// Sweep 手动触发一次过期扫描
// 客户端断开不中断扫描，保留 trace_id
// POST /api/v1/group/sweep
func (h *Handler) Sweep(c *gin.Context) {
	result, err := h.sweeper.RunOnce(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 订单相关接口
// ============================================================

// PayOrderRequest 钱包支付
type PayOrderRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	OrderID string `json:"order_id" binding:"required"`
}

// PayOrder 钱包余额支付拼团订单
// POST /api/v1/order/pay
func (h *Handler) PayOrder(c *gin.Context) {
	var req PayOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.orderService.PayOrder(c.Request.Context(), req.UserID, req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_id=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		response.ParamError(c, "order_id 参数不能为空")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	balance, err := h.walletService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Recharge 充值接口（简化版，实际应该走支付渠道）
// POST /api/v1/wallet/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.walletService.Recharge(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": req.UserID,
		"balance": balance,
	})
}

// ListTransactions 钱包流水
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  list,
		"total": total,
	})
}
