package model

// CompatibilityMode is the rule set deciding which schema diffs are breaking.
// Modes follow the schema-registry convention.
type CompatibilityMode string

const (
	// CompatBackward: new schema can read old data (safe for producers).
	CompatBackward CompatibilityMode = "backward"
	// CompatForward: old schema can read new data (safe for consumers).
	CompatForward CompatibilityMode = "forward"
	// CompatFull: both directions (strictest).
	CompatFull CompatibilityMode = "full"
	// CompatNone: no compatibility checks, publish always.
	CompatNone CompatibilityMode = "none"
)

// ValidCompatibilityMode reports whether m is a known mode.
func ValidCompatibilityMode(m CompatibilityMode) bool {
	switch m {
	case CompatBackward, CompatForward, CompatFull, CompatNone:
		return true
	}
	return false
}

// ContractStatus is the lifecycle status of a contract.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractDeprecated ContractStatus = "deprecated"
	ContractRetired    ContractStatus = "retired"
)

// RegistrationStatus is the status of a consumer registration.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationMigrating RegistrationStatus = "migrating"
	RegistrationInactive  RegistrationStatus = "inactive"
)

// ChangeType is the semantic-versioning classification of a schema change.
type ChangeType string

const (
	ChangePatch ChangeType = "patch"
	ChangeMinor ChangeType = "minor"
	ChangeMajor ChangeType = "major"
)

// ProposalStatus is the lifecycle status of a breaking-change proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalWithdrawn ProposalStatus = "withdrawn"
	ProposalPublished ProposalStatus = "published"
)

// AckResponse is a consumer's answer to a proposal.
type AckResponse string

const (
	AckApproved  AckResponse = "approved"
	AckBlocked   AckResponse = "blocked"
	AckMigrating AckResponse = "migrating"
)

// ValidAckResponse reports whether r is a known response.
func ValidAckResponse(r AckResponse) bool {
	switch r {
	case AckApproved, AckBlocked, AckMigrating:
		return true
	}
	return false
}

// ResourceType is the kind of data object an asset represents.
type ResourceType string

const (
	ResourceTable        ResourceType = "table"
	ResourceView         ResourceType = "view"
	ResourceModel        ResourceType = "model"
	ResourceAPIEndpoint  ResourceType = "api_endpoint"
	ResourceGraphQLQuery ResourceType = "graphql_query"
)

// ValidResourceType reports whether t is a known resource type.
func ValidResourceType(t ResourceType) bool {
	switch t {
	case ResourceTable, ResourceView, ResourceModel, ResourceAPIEndpoint, ResourceGraphQLQuery:
		return true
	}
	return false
}

// KeyScope is an API key permission scope.
type KeyScope string

const (
	ScopeRead  KeyScope = "read"
	ScopeWrite KeyScope = "write"
	ScopeAdmin KeyScope = "admin"
)

// Covers reports whether s grants at least the permissions of required.
// Scopes are strictly ordered: admin > write > read.
func (s KeyScope) Covers(required KeyScope) bool {
	rank := map[KeyScope]int{ScopeRead: 1, ScopeWrite: 2, ScopeAdmin: 3}
	return rank[s] >= rank[required]
}
