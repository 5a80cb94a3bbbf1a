package action

import (
	"context"
	"fmt"
	"strconv"
)

// calculatorHandler evaluates basic arithmetic locally. It exists so
// cheap computations never cost a sandbox round trip, and it takes the
// generic dispatch path like any registered tool.
type calculatorHandler struct{}

func (calculatorHandler) Name() string { return "calculator" }

func (calculatorHandler) Describe(act Action) (string, bool) {
	return fmt.Sprintf("Calculating %s %s %s",
		act.StringParam("a"), act.StringParam("operator"), act.StringParam("b")), true
}

func (calculatorHandler) Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error) {
	a, err := numberParam(act, "a")
	if err != nil {
		return nil, err
	}
	b, err := numberParam(act, "b")
	if err != nil {
		return nil, err
	}

	var out float64
	switch op := act.StringParam("operator"); op {
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "*":
		out = a * b
	case "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		out = a / b
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}

	return Success(inv.UUID, strconv.FormatFloat(out, 'f', -1, 64)), nil
}

func numberParam(act Action, key string) (float64, error) {
	switch v := act.Params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("param %q is not a number: %v", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %q is missing", key)
	}
}
