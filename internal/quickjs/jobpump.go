//go:build !v8

package quickjs

import (
	"errors"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// jobQueue runs QuickJS promise jobs. The modernc wrapper never calls
// JS_ExecutePendingJob, so the C runtime and its TLS are taken from the VM
// once and the queue is driven through libquickjs directly.
type jobQueue struct {
	rt  uintptr
	tls *libc.TLS
}

// newJobQueue locates the C runtime inside vm. It depends on the layout
//
//	type VM struct { ...; runtime *runtime }
//	type runtime struct { cRuntime uintptr; tls *libc.TLS; ... }
//
// and fails when a wrapper upgrade changes it.
func newJobQueue(vm *quickjs.VM) (jobQueue, error) {
	field := reflect.ValueOf(vm).Elem().FieldByName("runtime")
	if !field.IsValid() || field.IsNil() {
		return jobQueue{}, errors.New("quickjs: VM has no runtime field")
	}
	inner := reflect.NewAt(field.Type().Elem(), unsafe.Pointer(field.Pointer())).Elem()

	cRuntime := inner.FieldByName("cRuntime")
	tls := inner.FieldByName("tls")
	if !cRuntime.IsValid() || !tls.IsValid() || tls.IsNil() {
		return jobQueue{}, errors.New("quickjs: unexpected runtime layout")
	}
	return jobQueue{
		rt:  uintptr(cRuntime.Uint()),
		tls: (*libc.TLS)(unsafe.Pointer(tls.Pointer())),
	}, nil
}

// drain runs jobs until the queue is empty or a job throws, and returns how
// many ran. A throwing job is dropped; the next drain continues after it.
func (q jobQueue) drain() int {
	n := 0
	for lib.XJS_ExecutePendingJob(q.tls, q.rt, 0) > 0 {
		n++
	}
	return n
}
