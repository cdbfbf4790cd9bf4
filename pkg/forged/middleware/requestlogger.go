package middleware

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

func RequestLogFields(r *http.Request) log.Fields {
	return log.Fields{
		"remote_address": r.RemoteAddr,
		"method":         r.Method,
		"path":           r.URL.Path,
	}
}

func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			log.WithFields(RequestLogFields(r)).Tracef("%s %s", r.Method, r.URL.RequestURI())
		}
		return http.HandlerFunc(fn)
	}
}
