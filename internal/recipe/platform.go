package recipe

import "runtime"

// NewUnsupportedPlatformError builds an UnsupportedPlatformError for the
// recipe against the current runtime's GOOS/GOARCH.
func (r *Recipe) NewUnsupportedPlatformError() *UnsupportedPlatformError {
	return &UnsupportedPlatformError{
		RecipeName:  r.Name,
		CurrentOS:   runtime.GOOS,
		CurrentArch: runtime.GOARCH,
	}
}

// GetSupportedPlatforms returns every "os/arch" tuple this recipe builds on,
// after applying the allowlist-minus-denylist model.
func (r *Recipe) GetSupportedPlatforms() []string {
	supportedOS := r.SupportedOS
	if supportedOS == nil {
		supportedOS = SupportedOSDefaults()
	}
	supportedArch := r.SupportedArch
	if supportedArch == nil {
		supportedArch = SupportedArchDefaults()
	}

	var platforms []string
	for _, os := range supportedOS {
		for _, arch := range supportedArch {
			if r.SupportsPlatform(os, arch) {
				platforms = append(platforms, os+"/"+arch)
			}
		}
	}
	return platforms
}
