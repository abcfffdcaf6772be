package version

// Current defines the application version.
// It defaults to "dev" and can be overwritten at build time using -ldflags.
var Current = "dev"

// AppName and License are fixed constants; they cannot be set via ldflags.
const AppName = "nightwatch"
const License = "Apache-2.0"
