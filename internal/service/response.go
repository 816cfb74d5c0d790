package core

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	models "kadmin/internal/model"
)

// totalCountHeader mirrors Page.TotalElements for clients that only read headers
const totalCountHeader = "X-Total-Count"

// Response is the envelope of every JSON response
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

func newResponse(c *gin.Context, code ErrorCode, message string, data interface{}) Response {
	return Response{
		Code:      int(code),
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
		RequestID: getRequestID(c),
	}
}

// Success sends data with code 0
func Success(c *gin.Context, data interface{}) {
	c.JSON(GetHTTPStatus(ErrSuccess), newResponse(c, ErrSuccess, GetErrorMessage(ErrSuccess), data))
}

// SuccessPage sends a page of results and exposes its total in X-Total-Count
func SuccessPage[T any](c *gin.Context, page *models.Page[T]) {
	if page == nil {
		page = models.NewPage[T](nil, 0)
	}
	c.Header(totalCountHeader, strconv.FormatInt(page.TotalElements, 10))
	Success(c, page)
}

// FailWithCode sends the default message of code
func FailWithCode(c *gin.Context, code ErrorCode) {
	c.JSON(GetHTTPStatus(code), newResponse(c, code, GetErrorMessage(code), nil))
}

// FailWithMessage sends code with a custom message
func FailWithMessage(c *gin.Context, code ErrorCode, message string) {
	c.JSON(GetHTTPStatus(code), newResponse(c, code, message, nil))
}

// HandleError sends err as an envelope. AppErrors keep their code; a bare context
// error becomes ErrTimeout; anything else is ErrInternalServer.
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	if appErr == nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			appErr = NewErrorWithErr(ErrTimeout, err)
		} else {
			appErr = NewErrorWithDetail(ErrInternalServer, err.Error())
		}
	}

	message := appErr.Message
	if appErr.Detail != "" {
		message += ": " + appErr.Detail
	}
	c.JSON(appErr.HTTPStatus(), newResponse(c, appErr.Code, message, nil))
}

// AbortWithMessage sends code with a custom message and stops the handler chain
func AbortWithMessage(c *gin.Context, code ErrorCode, message string) {
	c.AbortWithStatusJSON(GetHTTPStatus(code), newResponse(c, code, message, nil))
}
