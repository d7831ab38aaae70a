package engine

import "runtime"

func goarch() string {
	return runtime.GOARCH
}
