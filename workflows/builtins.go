package workflows

import (
	"context"
	"log/slog"

	"github.com/Comcast/tortoise/core"
)

// StandardBuiltins are Go actions any workflow file can use.
//
//	succeed: returns true.
//	fail: returns false, which makes a guard fail.
//	log: logs the entity's Specification and returns its name.
func StandardBuiltins() map[string]interface{} {
	return map[string]interface{}{
		"succeed": func(ctx context.Context, entity string) (bool, error) {
			return true, nil
		},
		"fail": func(ctx context.Context, entity string) (bool, error) {
			return false, nil
		},
		"log": func(ctx context.Context, entity string, e *core.Engine) (interface{}, error) {
			spec, err := e.Read(ctx, entity)
			if err != nil {
				return nil, err
			}
			slog.InfoContext(ctx, "builtin log", "entity", entity, "spec", spec.String())
			return spec.Name, nil
		},
	}
}
