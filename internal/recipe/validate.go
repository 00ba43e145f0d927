package recipe

import (
	"fmt"
	"strings"
)

// ValidationError describes one structural problem found in a recipe.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult is the outcome of validating a recipe.
type ValidationResult struct {
	Valid  bool
	Recipe *Recipe
	Errors []ValidationError
}

var knownBuildSystems = map[string]bool{
	"cmake": true, "meson": true, "autotools": true, "make": true,
	"python": true, "cargo": true, "node": true,
}

// ValidateStructural performs fast, dependency-free validation suitable for
// parse-time use in the recipe index. It does not touch the network or the
// filesystem beyond what the caller already loaded.
func ValidateStructural(r *Recipe) []ValidationError {
	var errors []ValidationError

	if r.Name == "" {
		errors = append(errors, ValidationError{Field: "name", Message: "name is required"})
	} else if strings.ContainsAny(r.Name, " \t\n/\\") {
		errors = append(errors, ValidationError{Field: "name", Message: "name must not contain whitespace or path separators"})
	}

	if r.Version == "" {
		errors = append(errors, ValidationError{Field: "version", Message: "version is required"})
	}

	if r.Source.URL == "" {
		errors = append(errors, ValidationError{Field: "source.url", Message: "source.url is required"})
	}
	if r.Source.Checksum == "" {
		errors = append(errors, ValidationError{Field: "source.checksum", Message: "source.checksum is required"})
	} else if !strings.HasPrefix(r.Source.Checksum, "sha256:") {
		errors = append(errors, ValidationError{Field: "source.checksum", Message: "checksum must be prefixed 'sha256:'"})
	}

	if r.BuildSystem == "" {
		errors = append(errors, ValidationError{Field: "build_system", Message: "build_system is required"})
	} else if !knownBuildSystems[r.BuildSystem] {
		errors = append(errors, ValidationError{
			Field:   "build_system",
			Message: fmt.Sprintf("unknown build_system %q (expected one of cmake, meson, autotools, make, python, cargo, node)", r.BuildSystem),
		})
	}

	for i, step := range r.Steps {
		if step.Action == "" {
			errors = append(errors, ValidationError{Field: fmt.Sprintf("steps[%d].action", i), Message: "action is required"})
		}
	}

	for i, patch := range r.Patches {
		field := fmt.Sprintf("patches[%d]", i)
		if patch.URL != "" && patch.Data != "" {
			errors = append(errors, ValidationError{Field: field, Message: "cannot specify both 'url' and 'data'"})
		}
		if patch.URL == "" && patch.Data == "" {
			errors = append(errors, ValidationError{Field: field, Message: "must specify either 'url' or 'data'"})
		}
		if patch.URL != "" && patch.Checksum == "" {
			errors = append(errors, ValidationError{Field: field, Message: "url-based patches require a checksum"})
		}
	}

	for i, res := range r.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		if res.Name == "" {
			errors = append(errors, ValidationError{Field: field, Message: "name is required"})
		}
		if res.URL == "" {
			errors = append(errors, ValidationError{Field: field, Message: "url is required"})
		}
		if res.Checksum == "" {
			errors = append(errors, ValidationError{Field: field, Message: "checksum is required"})
		}
		if strings.Contains(res.Dest, "..") {
			errors = append(errors, ValidationError{Field: field, Message: "dest must not contain '..'"})
		}
	}

	return errors
}

// ValidateFull runs structural validation and wraps the result.
func ValidateFull(r *Recipe) *ValidationResult {
	result := &ValidationResult{Valid: true, Recipe: r}
	for _, err := range ValidateStructural(r) {
		result.Errors = append(result.Errors, err)
		result.Valid = false
	}
	return result
}
