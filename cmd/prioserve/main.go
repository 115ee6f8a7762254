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

package main

import (
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/prioserve/prioserve/cmd/prioserve/runner"
	"github.com/prioserve/prioserve/pkg/common/observability/logging"
)

func main() {
	// Report setup errors even before flags are parsed.
	logging.InitSetupLogging()

	if err := runner.NewCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		logging.Fatal(ctrl.Log.WithName("setup"), err, "prioserve failed")
	}
}
