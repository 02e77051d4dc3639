package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/dekarrin/rowsync/internal/token"
)

type ctxKey int

const ctxSubject ctxKey = iota

type mwFunc http.HandlerFunc

func (sf mwFunc) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sf(w, req)
}

// subject returns the subject of the token that authorized req, if any.
func subject(req *http.Request) string {
	s, _ := req.Context().Value(ctxSubject).(string)
	return s
}

func (a *API) dontPanic(next http.Handler) http.Handler {
	return mwFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if panicErr := recover(); panicErr != nil {
				r := internalServerError("panic: %v\nSTACK TRACE: %s", panicErr, string(debug.Stack()))
				r.WriteResponse(w)
				r.Log(a.log, req)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func (a *API) requireToken(next http.Handler) http.Handler {
	return mwFunc(func(w http.ResponseWriter, req *http.Request) {
		var r Result
		if len(a.secret) == 0 {
			r = forbidden("mutating endpoints are disabled; no token secret is configured")
		} else {
			tok, err := token.Get(req)
			if err == nil {
				var subj string
				subj, err = token.Validate(tok, a.secret)
				if err == nil {
					ctx := context.WithValue(req.Context(), ctxSubject, subj)
					next.ServeHTTP(w, req.WithContext(ctx))
					return
				}
			}
			r = unauthorized("token rejected: %s", err.Error())
		}

		time.Sleep(a.unauthDelay)
		r.WriteResponse(w)
		r.Log(a.log, req)
	})
}
