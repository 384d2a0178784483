// Package hook evaluates the optional JavaScript deployment and
// persistence hooks in a sandboxed goja.Runtime: a fresh interpreter per
// call, no registered Go functions beyond the pure entry point, and an
// interrupt-based wall-clock budget.
package hook

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/prevant-go/prevant/internal/apperr"
)

// Runner evaluates a configured JavaScript hook file. A nil *Runner (no
// hook configured) is valid and Run simply returns the input unchanged.
type Runner struct {
	source     string
	entryPoint string
	budget     time.Duration
}

// DefaultBudget is the wall-clock budget for a single hook invocation, per
// spec.md §9's "few hundred milliseconds" contract.
const DefaultBudget = 300 * time.Millisecond

// LoadDeploymentHook loads the file at path as a deploymentHook(appName,
// serviceConfigs) runner. An empty path yields a nil *Runner.
func LoadDeploymentHook(path string) (*Runner, error) {
	return load(path, "deploymentHook")
}

// LoadPersistenceHook loads the file at path as a persistenceHook(appName,
// payload) runner.
func LoadPersistenceHook(path string) (*Runner, error) {
	return load(path, "persistenceHook")
}

func load(path, entryPoint string) (*Runner, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.InvalidDeploymentHook(fmt.Sprintf("reading hook file %s: %s", path, err))
	}
	return &Runner{source: string(data), entryPoint: entryPoint, budget: DefaultBudget}, nil
}

// Run evaluates the hook with appName and the given JSON-shaped args,
// enforcing the wall-clock budget via goja's Interrupt mechanism. The
// hook's return value must be a JSON array; anything else is reported as
// apperr.InvalidDeploymentHook.
func (r *Runner) Run(appName string, args ...interface{}) ([]interface{}, error) {
	if r == nil {
		if len(args) == 0 {
			return nil, nil
		}
		list, _ := args[0].([]interface{})
		return list, nil
	}

	vm := goja.New()
	timer := time.AfterFunc(r.budget, func() {
		vm.Interrupt("hook exceeded its execution budget")
	})
	defer timer.Stop()

	if _, err := vm.RunString(r.source); err != nil {
		return nil, apperr.InvalidDeploymentHook(fmt.Sprintf("loading hook script: %s", err))
	}

	entry := vm.Get(r.entryPoint)
	fn, ok := goja.AssertFunction(entry)
	if !ok {
		return nil, apperr.InvalidDeploymentHook(fmt.Sprintf("hook script does not define function %s", r.entryPoint))
	}

	callArgs := make([]goja.Value, 0, len(args)+1)
	callArgs = append(callArgs, vm.ToValue(appName))
	for _, a := range args {
		callArgs = append(callArgs, vm.ToValue(a))
	}

	result, err := fn(goja.Undefined(), callArgs...)
	if err != nil {
		return nil, apperr.InvalidDeploymentHook(fmt.Sprintf("hook execution failed: %s", err))
	}

	exported := result.Export()
	list, ok := exported.([]interface{})
	if !ok {
		return nil, apperr.InvalidDeploymentHook("hook did not return a list")
	}
	return list, nil
}

// RunJSON is a convenience wrapper for callers holding Go structs: it
// marshals input to JSON, decodes to a generic value, runs the hook, and
// unmarshals the result back into out (a pointer to a slice).
func RunJSON(r *Runner, appName string, input interface{}, out interface{}) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return apperr.InvalidDeploymentHook(fmt.Sprintf("marshaling hook input: %s", err))
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return apperr.InvalidDeploymentHook(fmt.Sprintf("decoding hook input: %s", err))
	}

	result, err := r.Run(appName, generic)
	if err != nil {
		return err
	}

	resultRaw, err := json.Marshal(result)
	if err != nil {
		return apperr.InvalidDeploymentHook(fmt.Sprintf("marshaling hook output: %s", err))
	}
	if err := json.Unmarshal(resultRaw, out); err != nil {
		return apperr.InvalidDeploymentHook(fmt.Sprintf("decoding hook output: %s", err))
	}
	return nil
}
