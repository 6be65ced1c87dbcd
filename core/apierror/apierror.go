// Package apierror classifies errors returned by the Google APIs, decides whether they are worth
// retrying and turns them into messages administrators can act on.
package apierror

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

type Kind string

const (
	// general errors
	KindUnknown    Kind = "UNKNOWN"
	KindPermission Kind = "PERMISSION"
	KindNetwork    Kind = "NETWORK"
	KindData       Kind = "DATA"
	KindSystem     Kind = "SYSTEM"

	// API errors
	KindQuotaExceeded       Kind = "QUOTA_EXCEEDED"
	KindServiceUnavailable  Kind = "SERVICE_UNAVAILABLE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindNotFound            Kind = "NOT_FOUND"
	KindCannotDirectAddUser Kind = "CANNOT_DIRECT_ADD_USER"
	KindPermissionDenied    Kind = "PERMISSION_DENIED"
	KindUnknownAPI          Kind = "UNKNOWN_API_ERROR"
)

const (
	QuotaRetryDelay       = time.Minute
	UnavailableRetryDelay = 5 * time.Second
)

type (
	// Diagnostic lists what probably went wrong and how to fix it.
	Diagnostic struct {
		PossibleCauses []string `json:"possibleCauses"`
		Solutions      []string `json:"solutions"`
	}

	Info struct {
		Kind             Kind          `json:"type"`
		UserMessage      string        `json:"userMessage"`
		TechnicalMessage string        `json:"technicalMessage"`
		ShouldRetry      bool          `json:"shouldRetry"`
		RetryDelay       time.Duration `json:"retryDelay,omitempty"`
		Diagnostic       *Diagnostic   `json:"diagnostic,omitempty"`
	}
)

func (i Info) HasDetails() bool {
	return i.Diagnostic != nil && (i.Kind == KindCannotDirectAddUser || i.Kind == KindPermissionDenied)
}

// Message renders the error of an API response the way the matching rules expect it.
func Message(err error) string {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" && len(gErr.Errors) > 0 {
			msg = gErr.Errors[0].Message
		}
		for _, item := range gErr.Errors {
			if item.Reason != "" && !strings.Contains(msg, item.Reason) {
				msg += " " + item.Reason
			}
		}
		return fmt.Sprintf("%d %s", gErr.Code, msg)
	}
	return err.Error()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Parse classifies any error.
func Parse(err error) Info {
	if err == nil {
		return Info{Kind: KindUnknown, UserMessage: "unknown error", TechnicalMessage: "undefined error"}
	}

	msg := Message(err)
	switch {
	case containsAny(msg, "permission", "access"):
		return Info{Kind: KindPermission, UserMessage: "insufficient permissions, check your access rights", TechnicalMessage: msg}
	case containsAny(msg, "network", "timeout"):
		return Info{Kind: KindNetwork, UserMessage: "network problem, please try again later", TechnicalMessage: msg}
	case containsAny(msg, "Invalid", "not found"):
		return Info{Kind: KindData, UserMessage: "invalid data or item not found", TechnicalMessage: msg}
	default:
		return Info{Kind: KindSystem, UserMessage: "system error, please contact the administrator", TechnicalMessage: msg}
	}
}

// ParseAPI classifies an error returned by a Google API call. Rules are checked in order.
func ParseAPI(err error) Info {
	if err == nil {
		return Parse(err)
	}

	msg := Message(err)
	switch {
	case containsAny(msg, "quota", "rate limit"):
		return Info{
			Kind:             KindQuotaExceeded,
			UserMessage:      "API quota exceeded, please try again later",
			TechnicalMessage: msg,
			ShouldRetry:      true,
			RetryDelay:       QuotaRetryDelay,
		}
	case containsAny(msg, "503", "502"):
		return Info{
			Kind:             KindServiceUnavailable,
			UserMessage:      "service temporarily unavailable, retrying",
			TechnicalMessage: msg,
			ShouldRetry:      true,
			RetryDelay:       UnavailableRetryDelay,
		}
	case containsAny(msg, "401", "unauthorized"):
		return Info{Kind: KindUnauthorized, UserMessage: "authentication failed, please authorize again", TechnicalMessage: msg}
	case containsAny(msg, "404", "not found"):
		return Info{Kind: KindNotFound, UserMessage: "course or user not found", TechnicalMessage: msg}
	case containsAny(msg, "CannotDirectAddUser", "Unable to directly add the user"):
		return Info{
			Kind:             KindCannotDirectAddUser,
			UserMessage:      "the user cannot be added to the course directly",
			TechnicalMessage: msg,
			Diagnostic: &Diagnostic{
				PossibleCauses: []string{
					"the user's email domain does not match the course administrator's domain",
					"the user account does not exist or is disabled",
					"missing domain administrator rights",
					"the course settings do not allow adding users directly",
				},
				Solutions: []string{
					"check the user's email address",
					"make sure the account is enabled in Google Workspace",
					"run the operation with a domain administrator account",
					"ask the IT administrator to check the domain settings",
				},
			},
		}
	case containsAny(msg, "403", "Forbidden", "permission denied"):
		return Info{
			Kind:             KindPermissionDenied,
			UserMessage:      "insufficient permissions to perform this operation",
			TechnicalMessage: msg,
			Diagnostic: &Diagnostic{
				PossibleCauses: []string{
					"missing Google Classroom permissions",
					"not the owner or a co-teacher of the course",
					"missing domain administrator rights",
					"incomplete OAuth scopes",
				},
				Solutions: []string{
					"check the Google Classroom access rights",
					"make sure you own the course or were allowed to manage it",
					"run the operation with a domain administrator account",
					"authorize the application again",
				},
			},
		}
	default:
		return Info{Kind: KindUnknownAPI, UserMessage: "API call failed, please try again later", TechnicalMessage: msg}
	}
}

// Classify prefers the API rules and falls back to the general ones.
func Classify(err error) Info {
	if info := ParseAPI(err); err != nil && info.Kind != KindUnknownAPI {
		return info
	}
	return Parse(err)
}

// RenderDialog renders the detailed message shown for errors carrying diagnostics.
func RenderDialog(operation string, info Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed: %s\n", operation, info.UserMessage)
	if info.Diagnostic == nil {
		return sb.String()
	}

	sb.WriteString("\nPossible causes:\n")
	for i, cause := range info.Diagnostic.PossibleCauses {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, cause)
	}
	sb.WriteString("\nSuggested solutions:\n")
	for i, sol := range info.Diagnostic.Solutions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, sol)
	}
	if info.Kind == KindCannotDirectAddUser {
		sb.WriteString("\nNote:\n")
		sb.WriteString("- this usually means the user's email domain differs from the course administrator's\n")
		sb.WriteString("- check that the email belongs to the school domain (e.g. @school.edu)\n")
		sb.WriteString("- or ask the IT administrator to confirm the domain settings\n")
	}
	return sb.String()
}
