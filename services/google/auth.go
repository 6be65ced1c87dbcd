// Package googlesvc authenticates the Google API clients, impersonating the workspace admin through
// domain-wide delegation when a service account key is configured.
package googlesvc

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	classroomapi "google.golang.org/api/classroom/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/trezcool/gradebook/core"
)

// Scopes covers every call the services make.
var Scopes = []string{
	classroomapi.ClassroomCoursesScope,
	classroomapi.ClassroomRostersScope,
	classroomapi.ClassroomProfileEmailsScope,
	sheets.SpreadsheetsScope,
}

// JWTConfig parses a service account key; subject is the user to impersonate ("" for none).
func JWTConfig(key []byte, subject string, scopes ...string) (*jwt.Config, error) {
	conf, err := google.JWTConfigFromJSON(key, scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "parsing service account key")
	}
	conf.Subject = subject
	return conf, nil
}

// ClientOptions returns the options to build the API services with. Without a credentials file the
// application default credentials are used.
func ClientOptions(ctx context.Context, conf core.ClassroomConfig) ([]option.ClientOption, error) {
	if conf.CredentialsFile == "" {
		ts, err := google.DefaultTokenSource(ctx, Scopes...)
		if err != nil {
			return nil, errors.Wrap(err, "finding default credentials")
		}
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	}

	key, err := os.ReadFile(conf.CredentialsFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading credentials file")
	}
	jwtConf, err := JWTConfig(key, conf.Subject, Scopes...)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(jwtConf.TokenSource(ctx))}, nil
}
