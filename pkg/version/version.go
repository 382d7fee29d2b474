package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// String is the --version output of both binaries.
func String() string {
	return "gate-console " + Build
}
