package automation

// ScopeInfo describes a permission category surfaced by a connector, used
// to enrich the automation details endpoint with human-readable context.
type ScopeInfo struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Sensitivity string   `json:"sensitivity"` // low, medium, high
	DataTypes   []string `json:"data_types"`
}

// sensitivityRank orders Sensitivity values so callers can take the max
// across a set of scopes.
var sensitivityRank = map[string]int{"low": 0, "medium": 1, "high": 2}

// oauthScopeLibrary is a static lookup from the permission categories
// produced by pkg/connector implementations to a human-facing description
// and a coarse sensitivity tier consumed by the risk engine's permission
// factor.
var oauthScopeLibrary = map[string]ScopeInfo{
	"full_drive_access": {
		Label:       "Full Drive Access",
		Description: "Read, write, and delete any file in Google Drive.",
		Sensitivity: "high",
		DataTypes:   []string{"files", "documents"},
	},
	"drive_read": {
		Label:       "Drive Read",
		Description: "Read files in Google Drive.",
		Sensitivity: "medium",
		DataTypes:   []string{"files", "documents"},
	},
	"drive_file_access": {
		Label:       "Drive File Access",
		Description: "Access files the app created or the user opened with it.",
		Sensitivity: "low",
		DataTypes:   []string{"files"},
	},
	"gmail_read": {
		Label:       "Gmail Read",
		Description: "Read all email in the mailbox.",
		Sensitivity: "high",
		DataTypes:   []string{"email", "pii"},
	},
	"gmail_send": {
		Label:       "Gmail Send",
		Description: "Send email as the user.",
		Sensitivity: "high",
		DataTypes:   []string{"email"},
	},
	"gmail_modify": {
		Label:       "Gmail Modify",
		Description: "Read, send, and delete email.",
		Sensitivity: "high",
		DataTypes:   []string{"email", "pii"},
	},
	"directory_admin": {
		Label:       "Directory Admin",
		Description: "Manage users in the Workspace directory.",
		Sensitivity: "high",
		DataTypes:   []string{"identity", "pii"},
	},
	"sheets_access": {
		Label:       "Sheets Access",
		Description: "Read and write Google Sheets.",
		Sensitivity: "medium",
		DataTypes:   []string{"documents"},
	},
	"calendar_access": {
		Label:       "Calendar Access",
		Description: "Read and write calendar events.",
		Sensitivity: "low",
		DataTypes:   []string{"calendar"},
	},
	"identity_email": {
		Label:       "Identity: Email",
		Description: "View the user's email address.",
		Sensitivity: "low",
		DataTypes:   []string{"identity"},
	},
	"identity_profile": {
		Label:       "Identity: Profile",
		Description: "View the user's basic profile information.",
		Sensitivity: "low",
		DataTypes:   []string{"identity"},
	},
}

// LookupScope returns enrichment for a permission category. Unknown
// categories (a raw scope URL the library hasn't catalogued) get a
// medium-sensitivity default rather than being dropped.
func LookupScope(permission string) ScopeInfo {
	if info, ok := oauthScopeLibrary[permission]; ok {
		return info
	}
	return ScopeInfo{Label: permission, Description: "Uncatalogued permission.", Sensitivity: "medium"}
}

// OverallRisk returns the highest Sensitivity across scopes, defaulting to
// "low" when scopes is empty.
func OverallRisk(scopes []ScopeInfo) string {
	overall := "low"
	for _, s := range scopes {
		if sensitivityRank[s.Sensitivity] > sensitivityRank[overall] {
			overall = s.Sensitivity
		}
	}
	return overall
}
