package rules

import (
	"fmt"
	"reflect"

	"github.com/lumenhome/condrules/pkg/engine"
)

// UtilityLookup resolves a plugin-exported rule utility by its runtime
// type, the same role cosmo.plugin.service.PluginService.util_for_type
// plays in the original design.
type UtilityLookup interface {
	UtilityForType(t reflect.Type) (any, bool)
}

var ruleUtilsType = reflect.TypeOf((*RuleUtils)(nil))

// resolveUtilities inspects f's declared parameter list and returns the
// resolved argument values in positional order. Go has no keyword-only,
// variadic-keyword, or defaulted parameters, so those checks collapse to
// rejecting a variadic signature outright; every remaining parameter must
// have a concrete (non-interface) type that appears at most once.
func resolveUtilities(f any, e *engine.Engine, utilities UtilityLookup) ([]reflect.Value, error) {
	fv := reflect.ValueOf(f)
	if fv.Kind() != reflect.Func {
		return nil, &engine.ValidationError{Msg: "rule provider/action must be a function"}
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, &engine.ValidationError{Msg: "rule provider/action must not be variadic"}
	}

	seen := make(map[reflect.Type]struct{}, ft.NumIn())
	args := make([]reflect.Value, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		paramType := ft.In(i)
		if paramType.Kind() == reflect.Interface {
			return nil, &engine.ValidationError{Msg: fmt.Sprintf("parameter %d has no declared concrete type", i)}
		}
		if _, dup := seen[paramType]; dup {
			return nil, &engine.ValidationError{Msg: fmt.Sprintf("utility type %s requested more than once", paramType)}
		}
		seen[paramType] = struct{}{}

		if paramType == ruleUtilsType {
			args[i] = reflect.ValueOf(NewRuleUtils(e))
			continue
		}

		if utilities == nil {
			return nil, &engine.ValidationError{Msg: fmt.Sprintf("no utility registered for type %s", paramType)}
		}
		utility, ok := utilities.UtilityForType(paramType)
		if !ok {
			return nil, &engine.ValidationError{Msg: fmt.Sprintf("no utility registered for type %s", paramType)}
		}
		uv := reflect.ValueOf(utility)
		if !uv.Type().AssignableTo(paramType) {
			return nil, &engine.ValidationError{Msg: fmt.Sprintf("utility for type %s is not assignable to parameter %d", paramType, i)}
		}
		args[i] = uv
	}
	return args, nil
}

// callAction invokes action with resolved utilities and returns its error
// return value, if any. action must return either nothing or a single
// error.
func callAction(action Action, e *engine.Engine, utilities UtilityLookup) error {
	args, err := resolveUtilities(action, e, utilities)
	if err != nil {
		return err
	}
	fv := reflect.ValueOf(action)
	out := fv.Call(args)
	return lastError(out)
}

// callTrigger invokes a TriggerProvider and returns the condition it
// built. The provider must return (engine.Condition, error).
func callTrigger(provider TriggerProvider, e *engine.Engine, utilities UtilityLookup) (engine.Condition, error) {
	args, err := resolveUtilities(provider, e, utilities)
	if err != nil {
		return nil, err
	}
	fv := reflect.ValueOf(provider)
	ft := fv.Type()
	if ft.NumOut() != 2 || !ft.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		return nil, &engine.ValidationError{Msg: "trigger provider must return (engine.Condition, error)"}
	}
	out := fv.Call(args)
	if errv := out[1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	cond, ok := out[0].Interface().(engine.Condition)
	if !ok {
		return nil, &engine.ValidationError{Msg: "rule trigger didn't return an engine.Condition"}
	}
	return cond, nil
}

func lastError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.Type() != reflect.TypeOf((*error)(nil)).Elem() {
		return nil
	}
	if last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}
