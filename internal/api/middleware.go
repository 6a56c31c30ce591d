package api

import (
	"errors"
	"fmt"
	"net/http"
)

// errorHandler turns a panicking handler into a 500 response and closes the
// connection.
func (s *MessengerApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			panicErr, ok := rec.(error)
			if !ok {
				panicErr = fmt.Errorf("%v", rec)
			}
			s.log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, panicErr)

			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(panicErr))
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller from the session token and stores the
// user id in the request context.
func (s *MessengerApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := tokenFromRequest(r)
		if !ok {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("%s %s: rejected token: %v", r.Method, r.URL.Path, err)
			s.writeError(w, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
