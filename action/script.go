package action

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dop251/goja"
)

// scriptTimeout bounds how long a single Condition or Effect script may
// run, and is also used as the HTTP client timeout for webhook calls made
// from script effects.
const scriptTimeout = 5 * time.Second

// NewScriptedPolicy builds a Policy whose Condition and Effect are
// JavaScript sources rather than Go closures, for rules that are data
// (loaded from config or a store row) rather than compiled in. Both
// scripts see an action global (the candidate action's type and
// payload) and, if stateFn is non-nil, a state global (the engine's
// current Chronicle view), plus the jsonParse, jsonStringify, btoa and
// httpPost helpers; the effect script additionally sees emit(topic,
// payload) bound to the dispatch Context. conditionSrc must
// evaluate to a truthy value for effectSrc to run; an empty
// conditionSrc always fires.
func NewScriptedPolicy(name, conditionSrc, effectSrc string, priority int, once bool, stateFn func() map[string]any) (Policy, error) {
	var condProgram *goja.Program
	if conditionSrc != "" {
		p, err := goja.Compile(name+":condition", conditionSrc, true)
		if err != nil {
			return Policy{}, fmt.Errorf("action: compile condition for %q: %w", name, err)
		}
		condProgram = p
	}

	var effectProgram *goja.Program
	if effectSrc != "" {
		p, err := goja.Compile(name+":effect", effectSrc, true)
		if err != nil {
			return Policy{}, fmt.Errorf("action: compile effect for %q: %w", name, err)
		}
		effectProgram = p
	}

	// lastSeen carries the action a Condition matched on to the Effect that
	// follows it; Evaluate always calls Condition then Effect for the same
	// policy back-to-back on one goroutine, so no locking is needed.
	var lastSeen *Action

	return Policy{
		Name:     name,
		Priority: priority,
		Once:     once,
		Enabled:  true,
		Condition: func(ctx Context, lastAction *Action) bool {
			lastSeen = lastAction
			if condProgram == nil {
				return true
			}
			vm := goja.New()
			if err := registerScriptHelpers(vm); err != nil {
				return false
			}
			setActionAndState(vm, lastAction, stateFn)

			result, err := runWithRecover(vm, condProgram)
			if err != nil {
				return false
			}
			return result.ToBoolean()
		},
		Effect: func(ctx Context) {
			if effectProgram == nil {
				return
			}
			vm := goja.New()
			if err := registerScriptHelpers(vm); err != nil {
				return
			}
			setActionAndState(vm, lastSeen, stateFn)
			vm.Set("emit", func(topic string, payload any) { ctx.Emit(topic, payload) }) //nolint:errcheck

			_, _ = runWithRecover(vm, effectProgram)
		},
	}, nil
}

func setActionAndState(vm *goja.Runtime, a *Action, stateFn func() map[string]any) {
	if a != nil {
		vm.Set("action", map[string]any{"type": a.Type, "payload": a.Payload}) //nolint:errcheck
	}
	if stateFn != nil {
		vm.Set("state", stateFn()) //nolint:errcheck
	}
}

func runWithRecover(vm *goja.Runtime, program *goja.Program) (val goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action: script panic: %v", r)
		}
	}()
	timer := time.AfterFunc(scriptTimeout, func() { vm.Interrupt("action: script timeout") })
	defer timer.Stop()
	return vm.RunProgram(program)
}

// registerScriptHelpers mirrors the small set of globals a policy script
// needs: JSON (de)serialization, base64, and one webhook call (httpPost)
// for scripts that should notify an external system when a rule fires.
func registerScriptHelpers(vm *goja.Runtime) error {
	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		raw, ok := call.Arguments[0].Export().(string)
		if !ok {
			panic(vm.NewTypeError("jsonParse: expected string"))
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			panic(vm.NewTypeError("jsonParse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	if err := vm.Set("jsonStringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	}); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Arguments[0].String())))
	}); err != nil {
		return err
	}

	if err := vm.Set("httpPost", func(call goja.FunctionCall) goja.Value {
		return doScriptHTTPPost(vm, call.Arguments)
	}); err != nil {
		return err
	}

	return nil
}

func doScriptHTTPPost(vm *goja.Runtime, args []goja.Value) goja.Value {
	if len(args) == 0 {
		panic(vm.NewTypeError("httpPost: url is required"))
	}
	url := args[0].String()

	var body io.Reader
	if len(args) > 1 && !goja.IsUndefined(args[1]) && !goja.IsNull(args[1]) {
		data, err := json.Marshal(args[1].Export())
		if err != nil {
			panic(vm.NewTypeError("httpPost: marshal body: " + err.Error()))
		}
		body = bytes.NewBuffer(data)
	}

	client := &http.Client{Timeout: scriptTimeout}
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		panic(vm.NewTypeError("httpPost: " + err.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		panic(vm.NewTypeError("httpPost: " + err.Error()))
	}
	defer resp.Body.Close()

	return vm.ToValue(map[string]any{"status": resp.StatusCode})
}
