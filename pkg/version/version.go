package version

var (
	Version    = "dev"
	APIVersion = "v1"
	License    = "MIT License"
)
