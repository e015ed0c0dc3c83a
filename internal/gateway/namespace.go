package gateway

import (
	"sort"

	"github.com/medscribe/gateway/internal/models"
)

// Namespace names.
const (
	NamespaceTranscription = "transcription"
	NamespaceReports       = "reports"
	NamespaceSummaries     = "summaries"
	NamespaceUpdates       = "updates"
)

// Requirement names a permission a connection may present to enter a
// namespace. An empty Resource accepts any resource scope.
type Requirement struct {
	Name     string
	Resource string
}

// Namespace is an isolated logical channel with its own authorization
// policy. An empty Required set admits any authenticated connection.
type Namespace struct {
	Name     string
	Required []Requirement
}

// Namespaces declares the four channels and their static policies.
var Namespaces = map[string]Namespace{
	NamespaceTranscription: {
		Name: NamespaceTranscription,
		Required: []Requirement{
			{Name: models.PermTranscriptionRead},
			{Name: models.PermTranscriptionCreate},
		},
	},
	NamespaceReports: {
		Name: NamespaceReports,
		Required: []Requirement{
			{Name: models.PermReportRead},
			{Name: models.PermReportCreate},
		},
	},
	NamespaceSummaries: {
		Name: NamespaceSummaries,
		Required: []Requirement{
			{Name: models.PermSummaryRead},
			{Name: models.PermSummaryCreate},
		},
	},
	NamespaceUpdates: {
		Name: NamespaceUpdates,
	},
}

// Authorize checks the connection's resolved permissions against the
// namespace policy. At least one requirement must be satisfied. On denial
// it returns the sorted list of permission names that would have granted
// access.
func (n Namespace) Authorize(ctx *ConnectionContext) (missing []string, ok bool) {
	if len(n.Required) == 0 {
		return nil, true
	}

	for _, req := range n.Required {
		for _, grant := range ctx.Permissions {
			if matches(req, grant) {
				return nil, true
			}
		}
	}

	seen := make(map[string]struct{}, len(n.Required))
	for _, req := range n.Required {
		if _, dup := seen[req.Name]; dup {
			continue
		}
		seen[req.Name] = struct{}{}
		missing = append(missing, req.Name)
	}
	sort.Strings(missing)
	return missing, false
}

// matches applies resource-scoped matching: names must be equal; when the
// requirement names a resource and the grant is resource-scoped, the scopes
// must be equal. A grant with a nil resource matches any requested resource.
func matches(req Requirement, grant PermissionGrant) bool {
	if req.Name != grant.Name {
		return false
	}
	if req.Resource == "" || grant.Resource == nil {
		return true
	}
	return *grant.Resource == req.Resource
}

// standardRooms lists the rooms a connection is placed into on a successful
// namespace join: per-user, per-role, and per-department when present.
func standardRooms(ctx *ConnectionContext) []string {
	rooms := []string{UserRoom(ctx.UserID), RoleRoom(ctx.Role)}
	if ctx.Department != nil && *ctx.Department != "" {
		rooms = append(rooms, DepartmentRoom(*ctx.Department))
	}
	return rooms
}
