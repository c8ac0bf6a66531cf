package auth

import "context"

type contextKey int

const clientIPKey contextKey = iota

// WithClientIP attaches the caller's source IP to the context so the
// engine can apply per-IP throttles and stamp audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
