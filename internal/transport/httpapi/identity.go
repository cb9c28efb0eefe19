package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// Заголовки, которые проставляет gateway после аутентификации.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type principalKey struct{}

// identify кладёт в контекст пользователя из заголовков gateway.
// Отсутствие пользователя здесь не ошибка: каталог доступен анонимно.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := domain.Principal{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(domain.RoleAdmin)) {
			principal.Role = domain.RoleAdmin
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principalFrom(r.Context()).UserID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Error:   "unauthorized",
				Message: HeaderUserID + " header is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFrom(ctx context.Context) domain.Principal {
	principal, _ := ctx.Value(principalKey{}).(domain.Principal)
	return principal
}
