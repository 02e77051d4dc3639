package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dekarrin/rowsync"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Result is the outcome of an endpoint. It is written to the client with
// WriteResponse and logged with Log.
type Result struct {
	Status      int
	IsErr       bool
	InternalMsg string

	Resp interface{}

	hdrs [][2]string
}

func (r Result) WithHeader(name, val string) Result {
	rCopy := r
	rCopy.hdrs = append(append([][2]string{}, r.hdrs...), [2]string{name, val})
	return rCopy
}

// WriteResponse writes r to w as JSON. It panics if r was not created by one of
// the Result constructors or if its response cannot be marshaled.
func (r Result) WriteResponse(w http.ResponseWriter) {
	if r.Status == 0 {
		panic("result not populated")
	}

	var respBytes []byte
	if r.Status != http.StatusNoContent {
		var err error
		respBytes, err = json.Marshal(r.Resp)
		if err != nil {
			panic(fmt.Sprintf("could not marshal response: %s", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	for i := range r.hdrs {
		w.Header().Set(r.hdrs[i][0], r.hdrs[i][1])
	}

	w.WriteHeader(r.Status)

	if r.Status != http.StatusNoContent {
		w.Write(respBytes)
	}
}

// Log writes a line about the request and its result to log. Server errors are
// logged at Error level and everything else at Info.
func (r Result) Log(log rowsync.Logger, req *http.Request) {
	if r.IsErr && r.Status >= 500 {
		log.Errorf("%s %s: HTTP-%d %s", req.Method, req.URL.Path, r.Status, r.InternalMsg)
	} else {
		log.Infof("%s %s: HTTP-%d %s", req.Method, req.URL.Path, r.Status, r.InternalMsg)
	}
}

func response(status int, respObj interface{}, internalMsg string, v ...interface{}) Result {
	return Result{
		Status:      status,
		InternalMsg: fmt.Sprintf(internalMsg, v...),
		Resp:        respObj,
	}
}

func errResult(status int, userMsg, internalMsg string, v ...interface{}) Result {
	return Result{
		IsErr:       true,
		Status:      status,
		InternalMsg: fmt.Sprintf(internalMsg, v...),
		Resp: ErrorResponse{
			Error:  userMsg,
			Status: status,
		},
	}
}

func ok(respObj interface{}, internalMsg string, v ...interface{}) Result {
	return response(http.StatusOK, respObj, internalMsg, v...)
}

func created(respObj interface{}, internalMsg string, v ...interface{}) Result {
	return response(http.StatusCreated, respObj, internalMsg, v...)
}

func noContent(internalMsg string, v ...interface{}) Result {
	return response(http.StatusNoContent, nil, internalMsg, v...)
}

func badRequest(userMsg, internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusBadRequest, userMsg, internalMsg, v...)
}

func conflict(userMsg, internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusConflict, userMsg, internalMsg, v...)
}

func notFound(internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusNotFound, "The requested resource was not found", internalMsg, v...)
}

func forbidden(internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusForbidden, "You don't have permission to do that", internalMsg, v...)
}

func unauthorized(internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusUnauthorized, "You are not authorized to do that", internalMsg, v...).
		WithHeader("WWW-Authenticate", `Bearer realm="rowsync", charset="utf-8"`)
}

func internalServerError(internalMsg string, v ...interface{}) Result {
	return errResult(http.StatusInternalServerError, "An internal server error occurred", internalMsg, v...)
}
