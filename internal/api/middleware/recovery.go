package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"afml/pkg/utils"
)

// Recovery перехватывает panic в HTTP handlers
//
// Паника в одном запросе не роняет процесс: торговый цикл и монитор
// просадки живут в этом же процессе, и падение из-за отладочного
// endpoint'а недопустимо.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.L().WithComponent("http").Error(
					fmt.Sprintf("panic: %v\n%s", err, debug.Stack()))

				http.Error(
					w,
					fmt.Sprintf("Internal Server Error: %v", err),
					http.StatusInternalServerError,
				)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
