// Package microsoft implements the connector.Connector contract against
// Microsoft Graph: servicePrincipals for automation enumeration (Azure AD
// app registrations and Power Automate flows both surface as service
// principals), and the Graph audit log's directoryAudits feed for activity.
package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/singura/singura/pkg/connector"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// Connector discovers Azure AD service principals (app registrations,
// Power Automate flows, Graph-connected apps) as automations.
type Connector struct {
	tokens connector.TokenSource
	http   *connector.RateLimitedClient
}

// New creates a Microsoft Graph Connector.
func New(tokens connector.TokenSource) *Connector {
	return &Connector{
		tokens: tokens,
		http:   connector.NewRateLimitedClient("microsoft", 30*time.Second),
	}
}

func (c *Connector) Platform() connector.Platform { return connector.PlatformMicrosoft }

type servicePrincipalsResponse struct {
	Value []struct {
		ID                     string    `json:"id"`
		AppID                  string    `json:"appId"`
		DisplayName            string    `json:"displayName"`
		AppOwnerOrgID          string    `json:"appOwnerOrganizationId"`
		CreatedDateTime        time.Time `json:"createdDateTime"`
		OAuth2PermissionScopes []struct {
			Value string `json:"value"`
		} `json:"oauth2PermissionScopes"`
	} `json:"value"`
}

// ListAutomations enumerates Azure AD service principals in the tenant.
func (c *Connector) ListAutomations(ctx context.Context) ([]connector.CanonicalAutomation, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("microsoft connector: getting access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBase+"/servicePrincipals", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("microsoft connector: listing service principals: %w", err)
	}
	defer resp.Body.Close()

	var parsed servicePrincipalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("microsoft connector: decoding service principals response: %w", err)
	}

	automations := make([]connector.CanonicalAutomation, 0, len(parsed.Value))
	for _, sp := range parsed.Value {
		perms := make([]string, 0, len(sp.OAuth2PermissionScopes))
		for _, p := range sp.OAuth2PermissionScopes {
			perms = append(perms, p.Value)
		}
		automations = append(automations, connector.CanonicalAutomation{
			ExternalID:          sp.ID,
			Platform:            connector.PlatformMicrosoft,
			Name:                sp.DisplayName,
			PermissionsRequired: perms,
			CreatedAt:           sp.CreatedDateTime,
			OwnerExternalID:     sp.AppOwnerOrgID,
			Raw:                 map[string]any{"app_id": sp.AppID},
		})
	}

	return automations, nil
}

type directoryAuditsResponse struct {
	Value []struct {
		ID                  string    `json:"id"`
		ActivityDateTime    time.Time `json:"activityDateTime"`
		ActivityDisplayName string    `json:"activityDisplayName"`
		InitiatedBy         struct {
			App struct {
				ServicePrincipalID string `json:"servicePrincipalId"`
			} `json:"app"`
		} `json:"initiatedBy"`
		TargetResources []struct {
			DisplayName string `json:"displayName"`
		} `json:"targetResources"`
	} `json:"value"`
}

// StreamActivity reads the directory audit log filtered to events
// initiated by the given service principal within [since, until).
func (c *Connector) StreamActivity(ctx context.Context, automationExternalID string, since, until time.Time) (connector.ActivityBatch, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("microsoft connector: getting access token: %w", err)
	}

	url := fmt.Sprintf("%s/auditLogs/directoryAudits?$filter=activityDateTime ge %s and activityDateTime lt %s",
		graphBase, since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return connector.ActivityBatch{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("microsoft connector: fetching directory audits: %w", err)
	}
	defer resp.Body.Close()

	var parsed directoryAuditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("microsoft connector: decoding directory audits response: %w", err)
	}

	var batch connector.ActivityBatch
	for _, item := range parsed.Value {
		if item.InitiatedBy.App.ServicePrincipalID != automationExternalID {
			continue
		}
		if item.ID == "" {
			batch.DroppedCount++
			continue
		}

		target := ""
		if len(item.TargetResources) > 0 {
			target = item.TargetResources[0].DisplayName
		}

		batch.Events = append(batch.Events, connector.ActivityEvent{
			ExternalID:           item.ID,
			AutomationExternalID: automationExternalID,
			Platform:             connector.PlatformMicrosoft,
			Action:               classifyActivity(item.ActivityDisplayName),
			OccurredAt:           item.ActivityDateTime,
			ActorExternalID:      automationExternalID,
			TargetResource:       target,
		})
	}

	return batch, nil
}

func classifyActivity(name string) connector.ActionType {
	switch name {
	case "Add app role assignment to service principal", "Consent to application":
		return connector.ActionPermissionGrant
	case "Update application":
		return connector.ActionWorkflowTriggered
	default:
		return connector.ActionAPICall
	}
}
