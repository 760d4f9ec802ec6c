package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"tradecore/pkg/utils"
)

// Recovery catches a panic from any downstream handler, logs it with a
// stack trace, and returns 500 instead of taking the server down.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("panic recovered in http handler",
					utils.Any("error", err),
					utils.String("path", r.URL.Path),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, fmt.Sprintf("Internal Server Error: %v", err), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
