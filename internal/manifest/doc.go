// Package manifest reads project manifests and turns them into invocations.
//
// Every project directory holds a project.hcl file:
//
//	requires = ["lib/util"]
//
//	build {
//	  command = ["cc", context, "transient", cache, intention, product, project]
//	  env     = { CFLAGS = "-O2" }
//	}
//
//	test {
//	  command = "python -d fault.test.bin.coherence ${project}"
//	  match   = "test_*"
//	}
//
// The command and env attributes are kept as HCL expressions and evaluated
// only when a project is planned, against the variables product, project,
// dir, context, cache, intention, symbols and, for tests, file. A string
// command is split shell-style; a list command is used as is. Build
// invocations receive the run's symbols as trailing arguments. Test commands
// run once per file whose base name matches match; the file is appended as
// the last argument unless the command refers to it.
package manifest
