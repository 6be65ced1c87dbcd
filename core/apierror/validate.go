package apierror

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
)

type CheckType string

const (
	CheckEmailFormat CheckType = "EMAIL_FORMAT"
	CheckDomainMatch CheckType = "DOMAIN_MATCH"
	CheckCourseID    CheckType = "COURSE_ID"
)

var courseIDRegex = regexp.MustCompile(`^\d{10,15}$`)

type (
	DomainCheck struct {
		Valid          bool     `json:"valid"`
		UserDomain     string   `json:"userDomain,omitempty"`
		AllowedDomains []string `json:"allowedDomains,omitempty"`
		Reason         string   `json:"reason,omitempty"`
	}

	Check struct {
		Type    CheckType    `json:"type"`
		Valid   bool         `json:"valid"`
		Message string       `json:"message"`
		Domain  *DomainCheck `json:"details,omitempty"`
	}

	AdditionCheck struct {
		Valid  bool    `json:"valid"`
		Checks []Check `json:"validations"`
		Failed []Check `json:"failedValidations"`
	}
)

// ValidateRequired fails with a *core.ValidationError naming every missing or blank parameter.
func ValidateRequired(params map[string]interface{}, fields ...string) error {
	var (
		missing []string
		flds    []core.FieldError
	)
	for _, field := range fields {
		if isBlank(params[field]) {
			missing = append(missing, field)
			flds = append(flds, core.FieldError{Field: field, Error: "this field is required"})
		}
	}
	if len(missing) > 0 {
		return core.NewValidationError(errors.New("missing required parameters: "+strings.Join(missing, ", ")), flds...)
	}
	return nil
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return strings.TrimSpace(fmt.Sprint(v)) == ""
}

// AllowedDomains returns domains, or the domain of the administrator account when domains is empty.
func AllowedDomains(domains []string, adminEmail string) []string {
	if len(domains) > 0 {
		return domains
	}
	if d := core.EmailDomain(adminEmail); d != "" {
		return []string{d}
	}
	return nil
}

// ValidateUserDomain checks the domain of email against allowed. Nothing can be checked without
// allowed domains, so the email is then considered valid.
func ValidateUserDomain(email string, allowed []string) DomainCheck {
	domain := core.EmailDomain(email)
	if domain == "" {
		return DomainCheck{Reason: "invalid email format"}
	}
	if len(allowed) == 0 {
		return DomainCheck{Valid: true, UserDomain: domain}
	}

	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return DomainCheck{Valid: true, UserDomain: domain, AllowedDomains: allowed}
		}
	}
	return DomainCheck{
		UserDomain:     domain,
		AllowedDomains: allowed,
		Reason:         fmt.Sprintf("email domain %s is not one of the allowed domains: %s", domain, strings.Join(allowed, ", ")),
	}
}

// ValidateUserAddition runs the pre-flight checks of adding email to a course.
func ValidateUserAddition(email, courseID string, allowed []string) AdditionCheck {
	checks := make([]Check, 0, 3)

	if core.EmailDomain(email) == "" {
		checks = append(checks, Check{Type: CheckEmailFormat, Message: "invalid email format"})
	} else {
		checks = append(checks, Check{Type: CheckEmailFormat, Valid: true, Message: "valid email format"})
	}

	dc := ValidateUserDomain(email, allowed)
	domainMsg := dc.Reason
	if domainMsg == "" {
		domainMsg = "domain matches"
	}
	checks = append(checks, Check{Type: CheckDomainMatch, Valid: dc.Valid, Message: domainMsg, Domain: &dc})

	if courseIDRegex.MatchString(courseID) {
		checks = append(checks, Check{Type: CheckCourseID, Valid: true, Message: "valid course id"})
	} else {
		checks = append(checks, Check{Type: CheckCourseID, Message: "invalid course id format"})
	}

	res := AdditionCheck{Valid: true, Checks: checks}
	for _, c := range checks {
		if !c.Valid {
			res.Valid = false
			res.Failed = append(res.Failed, c)
		}
	}
	return res
}
