package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/log"
)

// StatusFor maps a workflow error to the HTTP status returned to the caller
func StatusFor(err error) int {
	switch medchain.ErrorCode(err) {
	case medchain.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case medchain.ErrCodeCompletionPending:
		return http.StatusAccepted
	case medchain.ErrCodeTransactionRejected, medchain.ErrCodeSequenceAborted:
		return http.StatusConflict
	case medchain.ErrCodeTransactionUnconfirmed:
		return http.StatusGatewayTimeout
	case medchain.ErrCodeNetworkUnavailable:
		return http.StatusServiceUnavailable
	case medchain.ErrCodeLedgerReadFailure, medchain.ErrCodeLedgerCountFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every failed response
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   string                 `json:"cause,omitempty"`
}

func toErrorBody(err error) errorBody {
	var we *medchain.WorkflowError
	if !errors.As(err, &we) {
		return errorBody{Code: "internal", Message: err.Error()}
	}
	body := errorBody{Code: we.Code, Message: we.Message, Details: we.Details}
	if we.Err != nil {
		body.Cause = we.Err.Error()
	}
	return body
}

// abortWithError writes err, plus any partial result, and stops the handler chain
func abortWithError(c *gin.Context, err error, result interface{}) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.L(c.Request.Context()).Errorf("Request failed: %s", err)
	} else {
		log.L(c.Request.Context()).Warnf("Request failed: %s", err)
	}

	body := gin.H{"error": toErrorBody(err)}
	if result != nil {
		body["result"] = result
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string, err error) {
	abortWithError(c, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, message, err), nil)
}
