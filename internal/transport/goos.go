package transport

import "runtime"

var runtimeGOOS = runtime.GOOS
