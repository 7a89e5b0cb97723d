package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// apiError satisfies proxyutil's coded-error contract so failures keep
// the shared {code, message} envelope.
type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string { return e.msg }

func (e apiError) Code() uint32 { return e.code }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, apiError{code: uint32(code), msg: message})
}
