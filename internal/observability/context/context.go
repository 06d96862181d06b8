// Package context carries request-scoped correlation values.
package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	clientIPKey
	userAgentKey
	actorKey
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithClientIP(ctx stdcontext.Context, ip string) stdcontext.Context {
	return stdcontext.WithValue(ctx, clientIPKey, strings.TrimSpace(ip))
}

func ClientIPFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, clientIPKey)
}

func WithUserAgent(ctx stdcontext.Context, userAgent string) stdcontext.Context {
	return stdcontext.WithValue(ctx, userAgentKey, strings.TrimSpace(userAgent))
}

func UserAgentFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, userAgentKey)
}

// WithActor records who performs the request, e.g. ("admin", "alice").
func WithActor(ctx stdcontext.Context, actorType, actorID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, actorKey, [2]string{strings.TrimSpace(actorType), strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx stdcontext.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	actor, ok := ctx.Value(actorKey).([2]string)
	if !ok {
		return "", ""
	}
	return actor[0], actor[1]
}

func stringValue(ctx stdcontext.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
