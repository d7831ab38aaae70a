package elf

import "unsafe"

// callNoArgs invokes a resolved init/fini array entry or IFUNC resolver: a
// bare code address with the C ABI "void (*)(void)" signature. Go has no
// portable way to call through a raw code pointer without cgo, so we use
// the same trick purego-style cgo-less FFI shims rely on: a Go func value
// is itself just a pointer to a single code-pointer word for any
// non-capturing zero-argument function, so a pointer to a word holding the
// address, reinterpreted as a func(), calls that address with the C calling
// convention for functions that take and return nothing.
func callNoArgs(addr uintptr) {
	word := &addr
	fn := *(*func())(unsafe.Pointer(&word))
	fn()
}

// CallIFuncResolver invokes an STT_GNU_IFUNC resolver: a bare code address
// with the C ABI "void* (*)(void)" signature, returning the address it
// resolves to. Same raw-function-pointer trick as callNoArgs, sized for a
// resolver's actual return value instead of init/fini's void one.
func CallIFuncResolver(addr uintptr) uintptr {
	word := &addr
	fn := *(*func() uintptr)(unsafe.Pointer(&word))
	return fn()
}
