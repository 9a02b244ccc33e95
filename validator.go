package modlife

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation issue type codes.
const (
	IssueMissingField              = "MISSING_FIELD"
	IssueInvalidID                 = "INVALID_ID"
	IssueInvalidVersion            = "INVALID_VERSION"
	IssueNameTooLong               = "NAME_TOO_LONG"
	IssueInvalidDependency         = "INVALID_DEPENDENCY"
	IssueMissingDependency         = "MISSING_DEPENDENCY"
	IssueOptionalDependencyMissing = "OPTIONAL_DEPENDENCY_MISSING"
	IssueVersionMismatch           = "VERSION_MISMATCH"
	IssueDependencyInError         = "DEPENDENCY_IN_ERROR"
	IssueInvalidPriority           = "INVALID_PRIORITY"
	IssueUnknownEnvironment        = "UNKNOWN_ENVIRONMENT"
	IssueInvalidAPI                = "INVALID_API"
	IssueInvalidEndpoint           = "INVALID_ENDPOINT"
	IssueInvalidParameter          = "INVALID_PARAMETER"
	IssueNoEndpoints               = "NO_ENDPOINTS"
	IssueCircularDependency        = "CIRCULAR_DEPENDENCY"
)

// idPattern constrains module ids to lowercase alphanumerics and hyphens.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// maxNameLength bounds the module display name.
const maxNameLength = 100

// knownEnvironments are the recognized Config.Environment values. An unknown
// environment is a warning, not an error.
var knownEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
	"test":        true,
}

// ValidationIssue is one validator finding, either blocking (error) or
// informational (warning).
type ValidationIssue struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ValidationResult accumulates every finding for one validation call.
// Errors block loading; warnings never do. Results are ephemeral and never
// stored.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) addError(issue ValidationIssue) {
	r.Errors = append(r.Errors, issue)
	r.Valid = false
}

func (r *ValidationResult) addWarning(issue ValidationIssue) {
	r.Warnings = append(r.Warnings, issue)
}

// Validator decides whether a module is safe to load. It reads the Registry
// to resolve dependencies and to walk the live dependency graph for cycle
// detection. All checks run and accumulate into a single non-throwing
// result; nothing is short-circuited.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator backed by registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// ValidateModule validates the registered module with the given id.
func (v *Validator) ValidateModule(id string) (ValidationResult, error) {
	descriptor, err := v.registry.Get(id)
	if err != nil {
		return ValidationResult{}, err
	}
	return v.Validate(descriptor), nil
}

// Validate runs every check against the descriptor.
func (v *Validator) Validate(descriptor *ModuleDescriptor) ValidationResult {
	result := ValidationResult{Valid: true}

	v.checkStructure(descriptor, &result)
	v.checkDependencies(descriptor, &result)
	v.checkConfiguration(descriptor, &result)
	v.checkAPIs(descriptor, &result)
	v.checkCircularDependencies(descriptor, &result)

	return result
}

func (v *Validator) checkStructure(descriptor *ModuleDescriptor, result *ValidationResult) {
	if descriptor.ID == "" {
		result.addError(ValidationIssue{
			Type:    IssueMissingField,
			Message: "module id is required",
			Field:   "id",
		})
	} else if !idPattern.MatchString(descriptor.ID) {
		result.addError(ValidationIssue{
			Type:    IssueInvalidID,
			Message: fmt.Sprintf("module id %q must contain only lowercase alphanumerics and hyphens", descriptor.ID),
			Field:   "id",
		})
	}

	if descriptor.Name == "" {
		result.addError(ValidationIssue{
			Type:    IssueMissingField,
			Message: "module name is required",
			Field:   "name",
		})
	} else if len(descriptor.Name) > maxNameLength {
		result.addError(ValidationIssue{
			Type:    IssueNameTooLong,
			Message: fmt.Sprintf("module name exceeds %d characters", maxNameLength),
			Field:   "name",
		})
	}

	if descriptor.Version == "" {
		result.addError(ValidationIssue{
			Type:    IssueMissingField,
			Message: "module version is required",
			Field:   "version",
		})
	} else if !versionPattern.MatchString(descriptor.Version) {
		result.addError(ValidationIssue{
			Type:    IssueInvalidVersion,
			Message: fmt.Sprintf("version %q is not a valid semantic version", descriptor.Version),
			Field:   "version",
		})
	}
}

func (v *Validator) checkDependencies(descriptor *ModuleDescriptor, result *ValidationResult) {
	for i, dependency := range descriptor.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)

		if dependency.ModuleID == "" || dependency.VersionRange == "" {
			result.addError(ValidationIssue{
				Type:    IssueInvalidDependency,
				Message: "dependency requires both moduleId and versionRange",
				Field:   field,
			})
			continue
		}

		target, err := v.registry.Get(dependency.ModuleID)
		if err != nil {
			if dependency.Required {
				result.addError(ValidationIssue{
					Type:    IssueMissingDependency,
					Message: fmt.Sprintf("required dependency %q is not registered", dependency.ModuleID),
					Field:   field,
				})
			} else {
				result.addWarning(ValidationIssue{
					Type:    IssueOptionalDependencyMissing,
					Message: fmt.Sprintf("optional dependency %q is not registered", dependency.ModuleID),
					Field:   field,
				})
			}
			continue
		}

		if !versionSatisfies(target.Version, dependency.VersionRange) {
			result.addError(ValidationIssue{
				Type:    IssueVersionMismatch,
				Message: fmt.Sprintf("dependency %q version %s does not satisfy range %q", dependency.ModuleID, target.Version, dependency.VersionRange),
				Field:   field,
				Details: map[string]interface{}{
					"available": target.Version,
					"required":  dependency.VersionRange,
				},
			})
		}

		// A dependency in ERROR status does not block loading.
		if target.Status == StatusError {
			result.addWarning(ValidationIssue{
				Type:    IssueDependencyInError,
				Message: fmt.Sprintf("dependency %q is currently in error status", dependency.ModuleID),
				Field:   field,
			})
		}
	}
}

func (v *Validator) checkConfiguration(descriptor *ModuleDescriptor, result *ValidationResult) {
	if descriptor.Config == nil {
		return
	}

	if descriptor.Config.Priority < 0 || descriptor.Config.Priority > 100 {
		result.addError(ValidationIssue{
			Type:    IssueInvalidPriority,
			Message: fmt.Sprintf("priority %d must be between 0 and 100", descriptor.Config.Priority),
			Field:   "config.priority",
		})
	}

	if env := descriptor.Config.Environment; env != "" && !knownEnvironments[env] {
		result.addWarning(ValidationIssue{
			Type:    IssueUnknownEnvironment,
			Message: fmt.Sprintf("environment %q is not a known environment", env),
			Field:   "config.environment",
		})
	}
}

func (v *Validator) checkAPIs(descriptor *ModuleDescriptor, result *ValidationResult) {
	for i, api := range descriptor.APIs {
		apiField := fmt.Sprintf("apis[%d]", i)

		if api.Name == "" || api.Version == "" {
			result.addError(ValidationIssue{
				Type:    IssueInvalidAPI,
				Message: "api requires both name and version",
				Field:   apiField,
			})
		}

		if len(api.Endpoints) == 0 {
			result.addWarning(ValidationIssue{
				Type:    IssueNoEndpoints,
				Message: fmt.Sprintf("api %q declares no endpoints", api.Name),
				Field:   apiField,
			})
		}

		for j, endpoint := range api.Endpoints {
			endpointField := fmt.Sprintf("%s.endpoints[%d]", apiField, j)

			if endpoint.Path == "" || !strings.HasPrefix(endpoint.Path, "/") {
				result.addError(ValidationIssue{
					Type:    IssueInvalidEndpoint,
					Message: fmt.Sprintf("endpoint path %q must start with \"/\"", endpoint.Path),
					Field:   endpointField,
				})
			}
			if endpoint.Method == "" {
				result.addError(ValidationIssue{
					Type:    IssueInvalidEndpoint,
					Message: "endpoint method is required",
					Field:   endpointField,
				})
			}
			if endpoint.HandlerRef == "" {
				result.addError(ValidationIssue{
					Type:    IssueInvalidEndpoint,
					Message: "endpoint handler reference is required",
					Field:   endpointField,
				})
			}

			for k, parameter := range endpoint.Parameters {
				if parameter.Name == "" || parameter.Type == "" {
					result.addError(ValidationIssue{
						Type:    IssueInvalidParameter,
						Message: "parameter requires both name and type",
						Field:   fmt.Sprintf("%s.parameters[%d]", endpointField, k),
					})
				}
			}
		}
	}
}

// checkCircularDependencies walks the live dependency graph in the Registry
// via depth-first traversal. A back-edge to a node on the active recursion
// stack is a cycle; indirect cycles (a -> b -> c -> a) are caught because
// edges of transitively reachable modules come from the Registry, not just
// the validated module's declared list.
func (v *Validator) checkCircularDependencies(descriptor *ModuleDescriptor, result *ValidationResult) {
	visited := make(map[string]bool)
	stack := make(map[string]bool)

	var visit func(id string, dependencies []Dependency)
	visit = func(id string, dependencies []Dependency) {
		visited[id] = true
		stack[id] = true
		defer delete(stack, id)

		for _, dependency := range dependencies {
			if dependency.ModuleID == "" {
				continue
			}
			if stack[dependency.ModuleID] {
				result.addError(ValidationIssue{
					Type:    IssueCircularDependency,
					Message: fmt.Sprintf("circular dependency detected involving module %q", dependency.ModuleID),
					Field:   "dependencies",
					Details: map[string]interface{}{"module": dependency.ModuleID},
				})
				continue
			}
			if visited[dependency.ModuleID] {
				continue
			}
			target, err := v.registry.Get(dependency.ModuleID)
			if err != nil {
				continue
			}
			visit(target.ID, target.Dependencies)
		}
	}

	visit(descriptor.ID, descriptor.Dependencies)
}
