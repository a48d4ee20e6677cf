package cybersponse

import (
	"fmt"
	"strings"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/auth"
)

// Options are supplied with every lookup and invoke call.
type Options struct {
	Host     string `json:"host" mapstructure:"host"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// Credentials returns the token scope for these options.
func (o Options) Credentials() auth.Credentials {
	return auth.Credentials{Host: o.Host, Username: o.Username, Password: o.Password}
}

func (o Options) endpoint(path string) string {
	return strings.TrimRight(o.Host, "/") + path
}

// ValidationError reports a missing required option.
type ValidationError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// ValidateOptions returns one error per empty required option, or an empty
// slice when everything is set.
func ValidateOptions(o Options) []ValidationError {
	errs := []ValidationError{}
	errs = validateString(errs, "host", o.Host, "You must provide a host.")
	errs = validateString(errs, "username", o.Username, "You must provide a username.")
	errs = validateString(errs, "password", o.Password, "You must provide a password.")
	return errs
}

func validateString(errs []ValidationError, key, value, message string) []ValidationError {
	if value == "" {
		errs = append(errs, ValidationError{Key: key, Message: message})
	}
	return errs
}
