package modlife

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) (*Registry, *Validator) {
	t.Helper()
	registry := NewRegistry(nil, &testLogger{t})
	return registry, NewValidator(registry)
}

func issueTypes(issues []ValidationIssue) []string {
	types := make([]string, len(issues))
	for i, issue := range issues {
		types[i] = issue.Type
	}
	return types
}

func TestValidatorAcceptsMinimalModule(t *testing.T) {
	_, validator := newTestValidator(t)

	result := validator.Validate(testDescriptor("cache", "1.0.0"))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidatorStructure(t *testing.T) {
	tests := []struct {
		name       string
		descriptor *ModuleDescriptor
		wantType   string
	}{
		{"missing id", &ModuleDescriptor{Name: "x", Version: "1.0.0"}, IssueMissingField},
		{"uppercase id", &ModuleDescriptor{ID: "Cache", Name: "x", Version: "1.0.0"}, IssueInvalidID},
		{"underscore id", &ModuleDescriptor{ID: "my_module", Name: "x", Version: "1.0.0"}, IssueInvalidID},
		{"missing name", &ModuleDescriptor{ID: "cache", Version: "1.0.0"}, IssueMissingField},
		{"long name", &ModuleDescriptor{ID: "cache", Name: strings.Repeat("n", 101), Version: "1.0.0"}, IssueNameTooLong},
		{"missing version", &ModuleDescriptor{ID: "cache", Name: "x"}, IssueMissingField},
		{"short version", testDescriptor("cache", "1.0"), IssueInvalidVersion},
	}

	_, validator := newTestValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.Validate(tt.descriptor)
			assert.False(t, result.Valid)
			assert.Contains(t, issueTypes(result.Errors), tt.wantType)
		})
	}
}

func TestValidatorAllowsBuildMetadataVersions(t *testing.T) {
	_, validator := newTestValidator(t)

	result := validator.Validate(testDescriptor("cache", "1.0.0-rc.1+build.7"))
	assert.True(t, result.Valid)
}

func TestValidatorChecksAreNotShortCircuited(t *testing.T) {
	_, validator := newTestValidator(t)

	descriptor := &ModuleDescriptor{
		ID:      "Bad_ID",
		Version: "nope",
		Config:  &ModuleConfig{Priority: 500},
	}
	result := validator.Validate(descriptor)

	types := issueTypes(result.Errors)
	assert.Contains(t, types, IssueInvalidID)
	assert.Contains(t, types, IssueMissingField) // name
	assert.Contains(t, types, IssueInvalidVersion)
	assert.Contains(t, types, IssueInvalidPriority)
}

func TestValidatorDependencies(t *testing.T) {
	registry, validator := newTestValidator(t)
	require.NoError(t, registry.Register(testDescriptor("cache", "1.4.0")))

	t.Run("incomplete dependency declaration", func(t *testing.T) {
		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "cache"}}
		result := validator.Validate(descriptor)
		assert.False(t, result.Valid)
		assert.Contains(t, issueTypes(result.Errors), IssueInvalidDependency)
	})

	t.Run("required dependency missing", func(t *testing.T) {
		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "ledger", VersionRange: "^1.0.0", Required: true}}
		result := validator.Validate(descriptor)
		assert.False(t, result.Valid)
		assert.Contains(t, issueTypes(result.Errors), IssueMissingDependency)
	})

	t.Run("optional dependency missing is a warning", func(t *testing.T) {
		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "ledger", VersionRange: "^1.0.0", Required: false}}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid)
		assert.Contains(t, issueTypes(result.Warnings), IssueOptionalDependencyMissing)
	})

	t.Run("compatible version range", func(t *testing.T) {
		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "cache", VersionRange: "^1.0.0", Required: true}}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid)
	})

	t.Run("version mismatch", func(t *testing.T) {
		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "cache", VersionRange: "^2.0.0", Required: true}}
		result := validator.Validate(descriptor)
		assert.False(t, result.Valid)
		assert.Contains(t, issueTypes(result.Errors), IssueVersionMismatch)
	})

	t.Run("dependency in error status is a warning", func(t *testing.T) {
		require.NoError(t, registry.Register(testDescriptor("flaky", "1.0.0")))
		require.NoError(t, registry.UpdateStatus("flaky", StatusLoading))
		require.NoError(t, registry.UpdateStatus("flaky", StatusError))

		descriptor := testDescriptor("billing", "2.0.0")
		descriptor.Dependencies = []Dependency{{ModuleID: "flaky", VersionRange: "^1.0.0", Required: true}}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid, "error-status dependency must not block loading")
		assert.Contains(t, issueTypes(result.Warnings), IssueDependencyInError)
	})
}

func TestValidatorConfiguration(t *testing.T) {
	_, validator := newTestValidator(t)

	t.Run("priority out of range", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.Config = &ModuleConfig{Priority: 101}
		result := validator.Validate(descriptor)
		assert.False(t, result.Valid)
		assert.Contains(t, issueTypes(result.Errors), IssueInvalidPriority)
	})

	t.Run("unknown environment is a warning", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.Config = &ModuleConfig{Environment: "qa-weird"}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid)
		assert.Contains(t, issueTypes(result.Warnings), IssueUnknownEnvironment)
	})

	t.Run("known environment passes", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.Config = &ModuleConfig{Environment: "production", Priority: 100}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Warnings)
	})
}

func TestValidatorAPIContract(t *testing.T) {
	_, validator := newTestValidator(t)

	t.Run("complete api passes", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.APIs = []APIDescriptor{{
			Name:    "cache-api",
			Version: "1.0.0",
			Endpoints: []Endpoint{{
				Path:       "/items",
				Method:     "GET",
				HandlerRef: "listItems",
				Parameters: []Parameter{{Name: "limit", Type: "int"}},
			}},
		}}
		result := validator.Validate(descriptor)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Warnings)
	})

	t.Run("missing api fields", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.APIs = []APIDescriptor{{Name: "cache-api"}}
		result := validator.Validate(descriptor)
		assert.False(t, result.Valid)
		assert.Contains(t, issueTypes(result.Errors), IssueInvalidAPI)
		assert.Contains(t, issueTypes(result.Warnings), IssueNoEndpoints)
	})

	t.Run("bad endpoint and parameter", func(t *testing.T) {
		descriptor := testDescriptor("cache", "1.0.0")
		descriptor.APIs = []APIDescriptor{{
			Name:    "cache-api",
			Version: "1.0.0",
			Endpoints: []Endpoint{{
				Path:       "items", // missing leading slash
				Parameters: []Parameter{{Name: "limit"}},
			}},
		}}
		result := validator.Validate(descriptor)
		types := issueTypes(result.Errors)
		assert.Contains(t, types, IssueInvalidEndpoint) // path, method, handler
		assert.Contains(t, types, IssueInvalidParameter)
	})
}

func TestValidatorDirectCycle(t *testing.T) {
	registry, validator := newTestValidator(t)

	a := testDescriptor("mod-a", "1.0.0")
	a.Dependencies = []Dependency{{ModuleID: "mod-b", VersionRange: "^1.0.0", Required: true}}
	b := testDescriptor("mod-b", "1.0.0")
	b.Dependencies = []Dependency{{ModuleID: "mod-a", VersionRange: "^1.0.0", Required: true}}
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))

	result, err := validator.ValidateModule("mod-a")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, issueTypes(result.Errors), IssueCircularDependency)
}

func TestValidatorIndirectCycle(t *testing.T) {
	registry, validator := newTestValidator(t)

	// a -> b -> c -> a; the cycle is only visible through the live graph
	a := testDescriptor("mod-a", "1.0.0")
	a.Dependencies = []Dependency{{ModuleID: "mod-b", VersionRange: "^1.0.0", Required: true}}
	b := testDescriptor("mod-b", "1.0.0")
	b.Dependencies = []Dependency{{ModuleID: "mod-c", VersionRange: "^1.0.0", Required: true}}
	c := testDescriptor("mod-c", "1.0.0")
	c.Dependencies = []Dependency{{ModuleID: "mod-a", VersionRange: "^1.0.0", Required: true}}
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))
	require.NoError(t, registry.Register(c))

	result, err := validator.ValidateModule("mod-a")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, issueTypes(result.Errors), IssueCircularDependency)
}

func TestValidatorDiamondIsNotACycle(t *testing.T) {
	registry, validator := newTestValidator(t)

	shared := testDescriptor("shared", "1.0.0")
	left := testDescriptor("left", "1.0.0")
	left.Dependencies = []Dependency{{ModuleID: "shared", VersionRange: "^1.0.0", Required: true}}
	right := testDescriptor("right", "1.0.0")
	right.Dependencies = []Dependency{{ModuleID: "shared", VersionRange: "^1.0.0", Required: true}}
	top := testDescriptor("top", "1.0.0")
	top.Dependencies = []Dependency{
		{ModuleID: "left", VersionRange: "^1.0.0", Required: true},
		{ModuleID: "right", VersionRange: "^1.0.0", Required: true},
	}
	require.NoError(t, registry.Register(shared))
	require.NoError(t, registry.Register(left))
	require.NoError(t, registry.Register(right))
	require.NoError(t, registry.Register(top))

	result, err := validator.ValidateModule("top")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidateModuleUnknownID(t *testing.T) {
	_, validator := newTestValidator(t)
	_, err := validator.ValidateModule("missing")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}
