package cel

import (
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// Request is what a route policy sees about a call.
type Request struct {
	UserID        string
	Role          string
	EmailVerified bool
	Method        string
	Path          string
	Time          time.Time
}

func (r Request) activation() map[string]any {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	return map[string]any{
		"user_id":        r.UserID,
		"role":           r.Role,
		"email_verified": r.EmailVerified,
		"method":         r.Method,
		"path":           r.Path,
		"request_time":   t,
	}
}

// NewPolicyEnvironment creates the CEL environment for route policies.
//
// Variables: user_id, role, email_verified, method, path, request_time.
// Functions: glob(pattern, s) for shell-style path matching.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("user_id", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("email_verified", cel.BoolType),
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell-style match, e.g. glob("/api/*", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}
