package evaluator

import (
	"context"
	"testing"
)

func runCode(t *testing.T, code string, inputs ...string) (Result, []string) {
	t.Helper()
	e := New()

	var outputs []string
	idx := 0
	inputFn := func(ctx context.Context, prompt string) (string, error) {
		if idx >= len(inputs) {
			t.Fatalf("input() called more times than inputs provided (prompt=%q)", prompt)
		}
		v := inputs[idx]
		idx++
		return v, nil
	}
	printFn := func(stream string, data []byte) {
		outputs = append(outputs, string(data))
	}

	res, err := e.Execute(context.Background(), code, nil, inputFn, printFn, nil)
	if err != nil {
		t.Fatalf("Execute(%q) error = %v", code, err)
	}
	return res, outputs
}

func TestEvaluatorArithmetic(t *testing.T) {
	res, _ := runCode(t, "1 + 2 * 3")
	if res.Value != int64(7) {
		t.Fatalf("Value = %v, want 7", res.Value)
	}
	if res.Repr != "7" {
		t.Fatalf("Repr = %q, want %q", res.Repr, "7")
	}
}

func TestEvaluatorAssignmentAndBindings(t *testing.T) {
	res, _ := runCode(t, "x = 10\ny = x * 2\ny")
	if res.Value != int64(20) {
		t.Fatalf("Value = %v, want 20", res.Value)
	}
	if res.Bindings["x"] != int64(10) || res.Bindings["y"] != int64(20) {
		t.Fatalf("Bindings = %v", res.Bindings)
	}
}

func TestEvaluatorPrint(t *testing.T) {
	_, outputs := runCode(t, `print("hello", 42)`)
	if len(outputs) != 1 || outputs[0] != "hello 42\n" {
		t.Fatalf("outputs = %v", outputs)
	}
}

func TestEvaluatorInput(t *testing.T) {
	res, _ := runCode(t, `name = input("who? ")`, "world")
	if res.Bindings["name"] != "world" {
		t.Fatalf("Bindings[name] = %v, want world", res.Bindings["name"])
	}
}

func TestEvaluatorNamespacePersistsAcrossCalls(t *testing.T) {
	e := New()
	ns := map[string]any{}

	res1, err := e.Execute(context.Background(), "x = 5", ns, nil, nil, nil)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	for k, v := range res1.Bindings {
		ns[k] = v
	}

	res2, err := e.Execute(context.Background(), "x + 1", ns, nil, nil, nil)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if res2.Value != int64(6) {
		t.Fatalf("Value = %v, want 6", res2.Value)
	}
}

func TestEvaluatorDivisionByZero(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "1 / 0", nil, nil, nil, nil)
	if err == nil {
		t.Fatal("Execute() should error on division by zero")
	}
}

func TestEvaluatorUndefinedName(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "doesnotexist", nil, nil, nil, nil)
	if err == nil {
		t.Fatal("Execute() should error on undefined name")
	}
}

func TestEvaluatorCompileError(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "1 + * 2", nil, nil, nil, nil)
	if err == nil {
		t.Fatal("Execute() should error on malformed syntax")
	}
	if _, ok := err.(*CompileError); !ok {
		t.Fatalf("error type = %T, want *CompileError", err)
	}
}

type cancelledToken struct{}

func (cancelledToken) Cancelled() bool { return true }

func TestEvaluatorHonorsCancelToken(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "x = 1\ny = 2\nx + y", nil, nil, nil, cancelledToken{})
	if _, ok := err.(CancelledError); !ok {
		t.Fatalf("error = %v, want CancelledError", err)
	}
}

// A statement blocked inside input() when ctx is cancelled must surface as
// CancelledError, not the raw error input() itself returned.
func TestEvaluatorCancelDuringInputSurfacesCancelledError(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())

	input := func(ctx context.Context, prompt string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := e.Execute(ctx, `x = input("? ")`, nil, input, nil, nil)
	if _, ok := err.(CancelledError); !ok {
		t.Fatalf("error = %v (%T), want CancelledError", err, err)
	}
}
