package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// UserIDHeader 上游身份服务注入的用户标识。
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

// Identity 从请求头（websocket 握手可用 userId 查询参数）读取调用者身份，缺失时返回 401。
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("userId"))
		}
		if userID == "" {
			utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID 把用户标识放入 context。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID 返回 context 中的用户标识。
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
