package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeTimeout       = 408
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 拼团业务错误码
const (
	CodeGoodsNotFound         = 2001
	CodeGroupBuyDisabled      = 2002
	CodeMisconfiguredGroupBuy = 2003
	CodeGroupNotFound         = 2004
	CodeGroupExpired          = 2005
	CodeGroupFull             = 2006
	CodeAlreadyJoined         = 2007
	CodeUserNotFound          = 2008
	CodeInvalidQuantity       = 2009
	CodeSweepInProgress       = 2010
)

// 订单与钱包错误码
const (
	CodeOrderNotFound      = 3001
	CodeOrderStatusInvalid = 3002
	CodeBalanceNotEnough   = 3003
	CodeInvalidAmount      = 3004
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
