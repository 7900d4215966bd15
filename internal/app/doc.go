// Package app contains the core application logic of the product controller.
// It defines the App struct, its configuration, and one method per command,
// decoupled from the command line that fills in the configuration.
//
// # Exit Status
//
// Run reports outcomes through sentinel errors so that the entrypoint can map
// them onto process exit codes: ErrFailed when an integration completed with
// failures, ErrNoContextSet when no construction context set could be found,
// and ErrNoCommand when no command was given.
package app
