//go:build v8

package v8engine

import (
	"fmt"
	"math"
	"reflect"

	v8 "github.com/tommie/v8go"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// binding adapts a Go function to a V8 callback. Its signature is checked
// once at registration so calls only convert values.
type binding struct {
	name     string
	fn       reflect.Value
	in       []reflect.Kind
	hasValue bool
	hasErr   bool
}

func newBinding(name string, fn any) (*binding, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.IsVariadic() {
		return nil, fmt.Errorf("registering %s: want a non-variadic func, got %T", name, fn)
	}
	b := &binding{name: name, fn: v}
	for i := 0; i < t.NumIn(); i++ {
		k := t.In(i).Kind()
		if !scalar(k) {
			return nil, fmt.Errorf("registering %s: unsupported parameter type %s", name, t.In(i))
		}
		b.in = append(b.in, k)
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			b.hasErr = true
		} else {
			b.hasValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("registering %s: second result must be error", name)
		}
		b.hasValue, b.hasErr = true, true
	default:
		return nil, fmt.Errorf("registering %s: too many results", name)
	}
	if b.hasValue && !scalar(t.Out(0).Kind()) {
		return nil, fmt.Errorf("registering %s: unsupported result type %s", name, t.Out(0))
	}
	return b, nil
}

func scalar(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool, reflect.Int, reflect.Int32, reflect.Int64, reflect.Float64:
		return true
	}
	return false
}

func (b *binding) call(iso *v8.Isolate, args []*v8.Value) (*v8.Value, error) {
	if len(args) < len(b.in) {
		return nil, fmt.Errorf("%s requires %d argument(s), got %d", b.name, len(b.in), len(args))
	}
	in := make([]reflect.Value, len(b.in))
	for i, k := range b.in {
		in[i] = fromJS(args[i], k)
	}

	out := b.fn.Call(in)
	if b.hasErr {
		if err, _ := out[len(out)-1].Interface().(error); err != nil {
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
	}
	if !b.hasValue {
		return nil, nil
	}
	return toJS(iso, out[0])
}

func fromJS(v *v8.Value, k reflect.Kind) reflect.Value {
	switch k {
	case reflect.String:
		return reflect.ValueOf(v.String())
	case reflect.Bool:
		return reflect.ValueOf(v.Boolean())
	case reflect.Int:
		return reflect.ValueOf(int(v.Integer()))
	case reflect.Int32:
		return reflect.ValueOf(v.Int32())
	case reflect.Int64:
		return reflect.ValueOf(v.Integer())
	default:
		return reflect.ValueOf(v.Number())
	}
}

// toJS converts a scalar result. Integers outside the int32 range become
// JS numbers rather than BigInts.
func toJS(iso *v8.Isolate, v reflect.Value) (*v8.Value, error) {
	switch v.Kind() {
	case reflect.String:
		return v8.NewValue(iso, v.String())
	case reflect.Bool:
		return v8.NewValue(iso, v.Bool())
	case reflect.Int, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return v8.NewValue(iso, int32(n))
		}
		return v8.NewValue(iso, float64(n))
	default:
		return v8.NewValue(iso, v.Float())
	}
}
