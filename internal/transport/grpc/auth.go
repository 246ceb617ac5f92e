package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"marketplace/backend/internal/domain"
)

type actorKey struct{}

func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

var (
	errNoCredentials  = errors.New("no credentials")
	errInvalidToken   = errors.New("invalid token")
	errInvalidActorID = errors.New("invalid user id")
	errInvalidRole    = errors.New("invalid role")
)

// Authenticator resolves the calling actor. With a secret it accepts only
// HS256 bearer tokens carrying sub and role claims; without one it trusts the
// x-user-id and x-user-role headers set by the gateway.
type Authenticator struct {
	secret []byte
	public map[string]bool
}

// NewAuthenticator builds an Authenticator. Methods listed in public are
// served without an actor.
func NewAuthenticator(secret string, public ...string) *Authenticator {
	a := &Authenticator{public: make(map[string]bool, len(public))}
	if secret = strings.TrimSpace(secret); secret != "" {
		a.secret = []byte(secret)
	}
	for _, m := range public {
		a.public[FullMethod(m)] = true
	}
	return a
}

func (a *Authenticator) Resolve(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if a.secret != nil {
		raw := first(md, "authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return domain.Actor{}, errNoCredentials
		}
		return a.parseToken(strings.TrimSpace(token))
	}

	userID := first(md, "x-user-id")
	if userID == "" {
		return domain.Actor{}, errNoCredentials
	}
	return newActor(userID, first(md, "x-user-role"))
}

func (a *Authenticator) parseToken(raw string) (domain.Actor, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	role, _ := claims["role"].(string)
	return newActor(sub, role)
}

func newActor(userID, role string) (domain.Actor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Actor{}, errInvalidActorID
	}
	r := domain.Role(strings.ToUpper(strings.TrimSpace(role)))
	if !r.Valid() {
		return domain.Actor{}, errInvalidRole
	}
	return domain.Actor{UserID: userID, Role: r}, nil
}

// UnaryInterceptor attaches the resolved actor to the context. Public methods
// proceed without one; every other method fails with Unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		actor, err := a.Resolve(ctx)
		if err == nil {
			return handler(ContextWithActor(ctx, actor), req)
		}
		if a.public[info.FullMethod] {
			return handler(ctx, req)
		}
		if errors.Is(err, errNoCredentials) {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
}

// RequestTimeoutInterceptor applies timeout to calls that arrive without a deadline.
func RequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func first(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
