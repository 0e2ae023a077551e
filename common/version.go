package common

// PackageName identifies this module in logs and metrics.
const PackageName = "quantropy-keygen"

// Version is set at build time via -ldflags.
var Version = "dev"
