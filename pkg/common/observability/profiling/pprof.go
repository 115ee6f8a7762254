/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package profiling exposes the runtime's pre-defined pprof profiles over HTTP.
package profiling

import (
	"net/http/pprof"
	"runtime"

	"github.com/gin-gonic/gin"
)

// Profiles lists the pre-defined runtime profiles served under /debug/pprof/.
var Profiles = []string{
	"heap",
	"goroutine",
	"allocs",
	"threadcreate",
	"block",
	"mutex",
}

// SetupPprofHandlers mounts the index and each pre-defined profile on r, and turns on mutex and block sampling.
func SetupPprofHandlers(r gin.IRoutes) {
	r.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	for _, p := range Profiles {
		r.GET("/debug/pprof/"+p, gin.WrapH(pprof.Handler(p)))
	}

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
}
