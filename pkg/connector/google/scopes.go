package google

import "strings"

// scopePermissions maps well-known Google OAuth scope URLs to the
// human-readable permission categories Singura surfaces in the risk engine.
// Unrecognized scopes are passed through verbatim so nothing is silently
// dropped when Google adds a new scope.
var scopePermissions = map[string]string{
	"https://www.googleapis.com/auth/drive":                "full_drive_access",
	"https://www.googleapis.com/auth/drive.readonly":       "drive_read",
	"https://www.googleapis.com/auth/drive.file":           "drive_file_access",
	"https://www.googleapis.com/auth/gmail.readonly":       "gmail_read",
	"https://www.googleapis.com/auth/gmail.send":           "gmail_send",
	"https://www.googleapis.com/auth/gmail.modify":         "gmail_modify",
	"https://www.googleapis.com/auth/admin.directory.user": "directory_admin",
	"https://www.googleapis.com/auth/spreadsheets":         "sheets_access",
	"https://www.googleapis.com/auth/calendar":             "calendar_access",
	"https://www.googleapis.com/auth/userinfo.email":       "identity_email",
	"https://www.googleapis.com/auth/userinfo.profile":     "identity_profile",
}

// ScopesToPermissions normalizes a set of raw Google OAuth scopes into
// Singura's permission category vocabulary.
func ScopesToPermissions(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if perm, ok := scopePermissions[scope]; ok {
			out = append(out, perm)
			continue
		}
		out = append(out, scope)
	}
	return out
}
