package condition

import (
	"fmt"
	"strings"
)

// compareOp implements the whitelisted comparison operators. Numeric
// comparisons coerce both sides to float64 when possible. Otherwise
// ==/!= compare the values' string forms, and the ordering operators
// compare two strings lexically; ordering any other pair is an EvalError.
// "in"/"not in" test membership in a string, a list,
// or the keys of a map, mirroring Python's operator.contains semantics.
func compareOp(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case ">", "<", ">=", "<=":
		return ordered(op, left, right)
	case "in":
		return contains(right, left), nil
	case "not in":
		return !contains(right, left), nil
	}
	return false, &EvalError{Msg: "unsupported operator: " + op}
}

func equal(a, b any) bool {
	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as == bs
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return ab == bb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func ordered(op string, left, right any) (bool, error) {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	return false, &EvalError{Msg: fmt.Sprintf("cannot compare %T with %T using %s", left, right, op)}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, e := range c {
			if equal(e, item) {
				return true
			}
		}
		return false
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, ok = c[s]
		return ok
	}
	return false
}

// evalCall dispatches a call node: either a bare built-in function
// (len, str, int, bool, isinstance, contains_pii, is_sensitive_path) or a
// method call on the evaluated receiver (startswith, endswith, contains,
// lower, upper, get, keys, values). Anything outside this whitelist is an
// EvalError, never a lookup into arbitrary Go code.
func evalCall(c callNode, ctx Context) (any, error) {
	if c.recv != nil {
		recv, err := evalNode(c.recv, ctx)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(c.args))
		for _, a := range c.args {
			v, err := evalNode(a, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return evalMethod(recv, c.meth, args)
	}

	args := make([]any, 0, len(c.args))
	for _, a := range c.args {
		v, err := evalNode(a, ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return evalBuiltin(c.fn, args, ctx)
}

func arg(args []any, i int, def any) any {
	if i < len(args) {
		return args[i]
	}
	return def
}

func evalMethod(recv any, method string, args []any) (any, error) {
	if recv == nil {
		switch method {
		case "startswith", "endswith", "contains":
			return false, nil
		}
		return "", nil
	}
	switch method {
	case "startswith":
		s, ok := recv.(string)
		if !ok {
			return false, nil
		}
		prefix, _ := arg(args, 0, "").(string)
		return strings.HasPrefix(s, prefix), nil
	case "endswith":
		s, ok := recv.(string)
		if !ok {
			return false, nil
		}
		suffix, _ := arg(args, 0, "").(string)
		return strings.HasSuffix(s, suffix), nil
	case "contains":
		s, ok := recv.(string)
		if !ok {
			return false, nil
		}
		sub, _ := arg(args, 0, "").(string)
		return strings.Contains(s, sub), nil
	case "lower":
		s, ok := recv.(string)
		if !ok {
			return recv, nil
		}
		return strings.ToLower(s), nil
	case "upper":
		s, ok := recv.(string)
		if !ok {
			return recv, nil
		}
		return strings.ToUpper(s), nil
	case "get":
		m, ok := recv.(map[string]any)
		if !ok {
			return "", nil
		}
		key, _ := arg(args, 0, "").(string)
		def := arg(args, 1, "")
		if v, ok := m[key]; ok {
			return v, nil
		}
		return def, nil
	case "keys":
		m, ok := recv.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		return out, nil
	case "values":
		m, ok := recv.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, 0, len(m))
		for _, v := range m {
			out = append(out, v)
		}
		return out, nil
	}
	return nil, &EvalError{Msg: "unsupported method: " + method}
}

func evalBuiltin(name string, args []any, ctx Context) (any, error) {
	switch name {
	case "contains_pii":
		var target map[string]any
		if len(args) > 0 {
			if m, ok := args[0].(map[string]any); ok {
				target = m
			}
		} else if p, ok := ctx["parameters"].(map[string]any); ok {
			target = p
		}
		return ContainsPII(target), nil
	case "is_sensitive_path":
		s, _ := arg(args, 0, "").(string)
		return IsSensitivePath(s), nil
	case "len":
		return lengthOf(arg(args, 0, nil)), nil
	case "str":
		return fmt.Sprintf("%v", arg(args, 0, "")), nil
	case "int":
		f, _ := asFloat(arg(args, 0, 0.0))
		return int(f), nil
	case "bool":
		return truthy(arg(args, 0, false)), nil
	case "isinstance":
		if len(args) < 2 {
			return false, nil
		}
		typeName, _ := args[1].(string)
		return isinstanceOf(args[0], typeName), nil
	}
	return nil, &EvalError{Msg: "unknown function: " + name}
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case string:
		return len([]rune(t))
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 0
}

func isinstanceOf(v any, typeName string) bool {
	switch typeName {
	case "str":
		_, ok := v.(string)
		return ok
	case "int":
		_, ok := v.(int)
		if ok {
			return true
		}
		if f, ok := v.(float64); ok {
			return f == float64(int(f))
		}
		return false
	case "float":
		_, ok := v.(float64)
		return ok
	case "dict":
		_, ok := v.(map[string]any)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	}
	return false
}
