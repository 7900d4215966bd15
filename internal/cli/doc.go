// Package cli turns the pdctl command line into an app.Config. Global options
// come first, then the command name and that command's own flags. It also maps
// the errors returned by a run onto process exit codes (see Exit).
package cli
