package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

type userContextKey struct {
	name string
}

var userCtxKey = &userContextKey{"user"}

var tracer = otel.Tracer("smarthome-monitor/authz")

const TokenLifetime = time.Hour

// DefaultPolicy allows every request that carries a verified subject.
const DefaultPolicy string = `package smarthome.authz

default allow := false

allow := response {
	is_string(input.sub)
	input.sub != ""
	response := {"user": input.sub}
}
`

type TokenAuth struct {
	ja *jwtauth.JWTAuth
}

func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{
		ja: jwtauth.New("HS256", []byte(secret), nil),
	}
}

// Issue returns a signed token for the user, valid for TokenLifetime.
func (ta *TokenAuth) Issue(user types.User) (string, error) {
	claims := map[string]interface{}{
		"sub":      user.ID,
		"username": user.Username,
	}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, TokenLifetime)

	_, token, err := ta.ja.Encode(claims)
	return token, err
}

// TokenFromAccessTokenQuery finds a token in the access_token query parameter,
// which is how browsers authenticate websocket and event stream requests.
func TokenFromAccessTokenQuery(r *http.Request) string {
	return r.URL.Query().Get("access_token")
}

type authenticator struct {
	log   zerolog.Logger
	query rego.PreparedEvalQuery
}

// NewAuthenticator returns a middleware that verifies the bearer token and
// asks the policy engine whether the request is allowed. On success the
// verified user id is stored in the request context.
func NewAuthenticator(ctx context.Context, logger zerolog.Logger, tokens *TokenAuth, policies io.Reader) (func(http.Handler) http.Handler, error) {
	module := DefaultPolicy

	if policies != nil {
		b, err := io.ReadAll(policies)
		if err != nil {
			return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
		}
		module = string(b)
	}

	query, err := rego.New(
		rego.Query("x = data.smarthome.authz.allow"),
		rego.Module("smarthome.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	a := &authenticator{log: logger, query: query}
	verify := jwtauth.Verify(tokens.ja, jwtauth.TokenFromHeader, TokenFromAccessTokenQuery)

	return func(next http.Handler) http.Handler {
		return verify(a.authorize(next))
	}, nil
}

func (a *authenticator) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "check-auth")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		logger := a.log

		token, claims, err := jwtauth.FromContext(ctx)
		if err != nil || token == nil {
			if err == nil {
				err = errors.New("authorization token missing")
			}
			logger.Info().Err(err).Str("path", r.URL.Path).Msg("request not authenticated")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		input := map[string]interface{}{
			"sub":    claims["sub"],
			"method": r.Method,
			"path":   strings.Split(strings.Trim(r.URL.Path, "/"), "/"),
		}

		results, err := a.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			logger.Error().Err(err).Msg("opa eval failed")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if len(results) == 0 {
			err = errors.New("opa query could not be satisfied")
			logger.Error().Err(err).Msg("auth failed")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		binding := results[0].Bindings["x"]

		// If authz fails we will get back a single bool. Check for that first.
		if allowed, ok := binding.(bool); ok && !allowed {
			err = errors.New("authorization failed")
			logger.Warn().Err(err).Msg("request denied by policy")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		result, ok := binding.(map[string]interface{})
		if !ok {
			err = errors.New("unexpected result type")
			logger.Error().Err(err).Msg("opa error")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		user, ok := result["user"].(string)
		if !ok || user == "" {
			err = errors.New("bad response from authz policy engine")
			logger.Error().Err(err).Msg("opa error")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// GetUserFromContext returns the verified user id, if any.
func GetUserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userCtxKey).(string)
	return user, ok && user != ""
}
