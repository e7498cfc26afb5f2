package common

// Version is stamped at build time via
// -ldflags "-X github.com/gatewayz/gatewayz/common.Version=...".
var Version = "dev"
