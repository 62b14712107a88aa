package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

func registerBuiltins(f *Functions) {
	f.RegisterDerive("copy", func(Args) (ir.DeriveFunc, error) {
		return func(deps []any) (any, error) {
			if len(deps) == 0 {
				return nil, nil
			}
			return deps[0], nil
		}, nil
	})
	f.RegisterDerive("scale", func(args Args) (ir.DeriveFunc, error) {
		factor, err := numberArg(args, "factor", 1)
		if err != nil {
			return nil, err
		}
		integralFactor := ir.IsIntegral(args["factor"]) || args["factor"] == nil
		return func(deps []any) (any, error) {
			if len(deps) != 1 {
				return nil, fmt.Errorf("scale: expected 1 dependency, got %d", len(deps))
			}
			n, ok := ir.AsNumber(deps[0])
			if !ok {
				return nil, fmt.Errorf("scale: %T is not a number", deps[0])
			}
			return numberResult(n*factor, integralFactor && ir.IsIntegral(deps[0])), nil
		}, nil
	})
	f.RegisterDerive("sum", func(Args) (ir.DeriveFunc, error) {
		return arithmetic("sum", 0, func(acc, n float64) float64 { return acc + n }), nil
	})
	f.RegisterDerive("product", func(Args) (ir.DeriveFunc, error) {
		return arithmetic("product", 1, func(acc, n float64) float64 { return acc * n }), nil
	})
	f.RegisterDerive("count", func(Args) (ir.DeriveFunc, error) {
		return func(deps []any) (any, error) {
			return int64(len(flatten(deps))), nil
		}, nil
	})
	f.RegisterDerive("concat", func(args Args) (ir.DeriveFunc, error) {
		sep, _ := args["sep"].(string)
		return func(deps []any) (any, error) {
			parts := make([]string, 0, len(deps))
			for _, d := range flatten(deps) {
				if d == nil {
					continue
				}
				parts = append(parts, fmt.Sprint(d))
			}
			return strings.Join(parts, sep), nil
		}, nil
	})
	f.RegisterDerive("not", func(Args) (ir.DeriveFunc, error) {
		return func(deps []any) (any, error) {
			if len(deps) != 1 {
				return nil, fmt.Errorf("not: expected 1 dependency, got %d", len(deps))
			}
			return !truthy(deps[0]), nil
		}, nil
	})
	f.RegisterDerive("all", func(Args) (ir.DeriveFunc, error) {
		return func(deps []any) (any, error) {
			for _, d := range flatten(deps) {
				if !truthy(d) {
					return false, nil
				}
			}
			return true, nil
		}, nil
	})
	f.RegisterDerive("any", func(Args) (ir.DeriveFunc, error) {
		return func(deps []any) (any, error) {
			for _, d := range flatten(deps) {
				if truthy(d) {
					return true, nil
				}
			}
			return false, nil
		}, nil
	})
	f.RegisterDerive("default", func(args Args) (ir.DeriveFunc, error) {
		fallback := args["value"]
		return func(deps []any) (any, error) {
			for _, d := range deps {
				if d != nil {
					return d, nil
				}
			}
			return fallback, nil
		}, nil
	})

	f.RegisterValidate("required", func(args Args) (ir.ValidateFunc, error) {
		msg := messageArg(args, "required")
		return func(deps []any) string {
			for _, d := range deps {
				if d == nil || d == "" {
					return msg
				}
			}
			return ""
		}, nil
	})
	f.RegisterValidate("nonEmpty", func(args Args) (ir.ValidateFunc, error) {
		msg := messageArg(args, "must not be empty")
		return func(deps []any) string {
			for _, d := range deps {
				switch v := d.(type) {
				case string:
					if v == "" {
						return msg
					}
				case []any:
					if len(v) == 0 {
						return msg
					}
				case nil:
					return msg
				}
			}
			return ""
		}, nil
	})
	f.RegisterValidate("min", boundValidator("min", func(n, bound float64) bool { return n >= bound }))
	f.RegisterValidate("max", boundValidator("max", func(n, bound float64) bool { return n <= bound }))
	f.RegisterValidate("pattern", func(args Args) (ir.ValidateFunc, error) {
		expr, _ := args["pattern"].(string)
		if expr == "" {
			return nil, fmt.Errorf("pattern: args.pattern is required")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		msg := messageArg(args, fmt.Sprintf("must match %s", expr))
		return func(deps []any) string {
			for _, d := range deps {
				s, ok := d.(string)
				if !ok || !re.MatchString(s) {
					return msg
				}
			}
			return ""
		}, nil
	})

	f.RegisterKey("join", func(args Args) (ir.KeyFunc, error) {
		sep, ok := args["sep"].(string)
		if !ok {
			sep = ":"
		}
		return func(deps []any) (any, error) {
			parts := make([]string, len(deps))
			for i, d := range deps {
				if d == nil {
					return nil, nil
				}
				parts[i] = fmt.Sprint(d)
			}
			return strings.Join(parts, sep), nil
		}, nil
	})
	f.RegisterKey("first", func(Args) (ir.KeyFunc, error) {
		return func(deps []any) (any, error) {
			if len(deps) == 0 {
				return nil, nil
			}
			return deps[0], nil
		}, nil
	})
}

// arithmetic folds every (flattened) dependency into one number. Nil values
// count as the identity so partially filled rows do not fail.
func arithmetic(name string, identity float64, op func(acc, n float64) float64) ir.DeriveFunc {
	return func(deps []any) (any, error) {
		acc := identity
		integral := true
		for _, d := range flatten(deps) {
			if d == nil {
				continue
			}
			n, ok := ir.AsNumber(d)
			if !ok {
				return nil, fmt.Errorf("%s: %T is not a number", name, d)
			}
			integral = integral && ir.IsIntegral(d)
			acc = op(acc, n)
		}
		return numberResult(acc, integral), nil
	}
}

func boundValidator(name string, ok func(n, bound float64) bool) ValidateFactory {
	return func(args Args) (ir.ValidateFunc, error) {
		if _, present := args[name]; !present {
			return nil, fmt.Errorf("%s: args.%s is required", name, name)
		}
		bound, err := numberArg(args, name, 0)
		if err != nil {
			return nil, err
		}
		msg := messageArg(args, fmt.Sprintf("must be %s %v", map[string]string{"min": ">=", "max": "<="}[name], args[name]))
		return func(deps []any) string {
			for _, d := range deps {
				n, isNum := ir.AsNumber(d)
				if !isNum || !ok(n, bound) {
					return msg
				}
			}
			return ""
		}, nil
	}
}

// flatten expands list-valued dependencies one level. Dependencies that
// cross a list boundary arrive as []any of per-row values.
func flatten(deps []any) []any {
	var out []any
	for _, d := range deps {
		if list, ok := d.([]any); ok {
			out = append(out, list...)
			continue
		}
		out = append(out, d)
	}
	return out
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	}
	if n, ok := ir.AsNumber(v); ok {
		return n != 0
	}
	return true
}

func numberArg(args Args, name string, def float64) (float64, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return def, nil
	}
	n, ok := ir.AsNumber(raw)
	if !ok {
		return 0, fmt.Errorf("args.%s: %T is not a number", name, raw)
	}
	return n, nil
}

func messageArg(args Args, def string) string {
	if msg, ok := args["message"].(string); ok && msg != "" {
		return msg
	}
	return def
}

func numberResult(n float64, integral bool) any {
	if integral {
		return int64(n)
	}
	return n
}
