package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinSecretBytes is the shortest accepted HMAC secret.
const MinSecretBytes = 32

// ConfigurationError reports a configuration that must not be served.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func configError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// RegisterCustomValidators registers tutorgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// audit_output: validates "stdout" or "file://<absolute-path>"
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	if err := v.RegisterValidation("secret_len", validateSecretLen); err != nil {
		return fmt.Errorf("failed to register secret_len validator: %w", err)
	}
	if err := v.RegisterValidation("store_driver", validateStoreDriver); err != nil {
		return fmt.Errorf("failed to register store_driver validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout" or "file://<absolute-path>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}

	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}

	return false
}

func validateSecretLen(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) >= MinSecretBytes
}

func validateStoreDriver(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "redis", "memory":
		return true
	}
	return false
}

// Validate validates the Config using struct tags and cross-field rules.
// Every failure is a *ConfigurationError.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUniqueNames(); err != nil {
		return err
	}

	if c.Server.Production {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	return nil
}

// validateUniqueNames rejects duplicate provider and policy names.
func (c *Config) validateUniqueNames() error {
	seen := make(map[string]struct{}, len(c.OAuth.Providers))
	for i, p := range c.OAuth.Providers {
		if _, dup := seen[p.Name]; dup {
			return configError("oauth.providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	seen = make(map[string]struct{}, len(c.Policies))
	for i, p := range c.Policies {
		if _, dup := seen[p.Name]; dup {
			return configError("policies[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// validateProduction applies the rules that only bind a production deployment.
func (c *Config) validateProduction() error {
	var problems []string

	if u, err := url.Parse(c.Server.FrontendURL); err != nil || u.Scheme != "https" {
		problems = append(problems, "server.frontend_url must use https in production")
	}
	if c.Store.Driver != "redis" {
		problems = append(problems, "store.driver must be redis in production")
	}
	if c.DevMode {
		problems = append(problems, "dev_mode cannot be combined with server.production")
	}
	for i, p := range c.OAuth.Providers {
		if u, err := url.Parse(p.RedirectURL); err != nil || u.Scheme != "https" {
			problems = append(problems, fmt.Sprintf("oauth.providers[%d].redirect_url must use https in production", i))
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return &ConfigurationError{Problems: messages}
	}
	return &ConfigurationError{Problems: []string{err.Error()}}
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be shorter than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-path>'", field)
	case "secret_len":
		return fmt.Sprintf("%s must be at least %d bytes", field, MinSecretBytes)
	case "store_driver":
		return fmt.Sprintf("%s must be 'redis' or 'memory'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
