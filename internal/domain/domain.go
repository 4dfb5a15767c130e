// Package domain holds the core data model (§3): Tenant, User, Memory and
// its owned records, Entity/Relation, and the association tables between
// them. These are plain structs; persistence and query concerns live in
// internal/store.
package domain

import "time"

// Visibility gates cross-user reads of a Memory within a tenant.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
	VisibilityPublic  Visibility = "public"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityPublic:
		return true
	}
	return false
}

// Tenant is the isolation boundary; every query is filtered on its ID.
type Tenant struct {
	ID       string
	Slug     string
	Plan     string
	Settings TenantSettings
}

type TenantSettings struct {
	MaxMemories int
	MaxFileSize int64
}

// User belongs to exactly one Tenant.
type User struct {
	ID          string
	TenantID    string
	Email       string
	Role        string
	Permissions []string
}

// HasPermission reports whether the user carries the named permission.
func (u User) HasPermission(p string) bool {
	for _, perm := range u.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}

// PermissionManage is the permission that allows reading/writing memories
// regardless of visibility or ownership within a tenant.
const PermissionManage = "memories.manage"

// Memory is the root aggregate (§3).
type Memory struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenantId"`
	CreatedBy          *string        `json:"createdBy,omitempty"`
	Content            string         `json:"content"`
	Title              string         `json:"title,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Visibility         Visibility     `json:"visibility"`
	Embedding          []float32      `json:"-"`
	EmbeddingModel     string         `json:"embeddingModel,omitempty"`
	CurrentVersion     int            `json:"currentVersion"`
	HasCorrection      bool           `json:"hasCorrection"`
	EntitiesExtracted  bool           `json:"entitiesExtracted"`
	ExtractionMetadata map[string]any `json:"extractionMetadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

const (
	MaxContentLen = 50_000
	MaxTitleLen   = 255
	MaxTags       = 50
	MaxTagLen     = 50
	MaxAttachmentsPerCreate = 10
)

// ChangeType enumerates why a MemoryVersion row was written.
type ChangeType string

const (
	ChangeCreate     ChangeType = "create"
	ChangeUpdate     ChangeType = "update"
	ChangeRollback   ChangeType = "rollback"
	ChangeCorrection ChangeType = "correction"
)

// MemoryVersion is an append-only snapshot per mutation (§3, §4.10).
type MemoryVersion struct {
	MemoryID      string         `json:"memoryId"`
	VersionNumber int            `json:"versionNumber"`
	Content       string         `json:"content"`
	Title         string         `json:"title,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ChangedBy     *string        `json:"changedBy,omitempty"`
	ChangeType    ChangeType     `json:"changeType"`
	ChangeReason  string         `json:"changeReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Correction is an authoritative later-written override of content (§3).
type Correction struct {
	ID                      string    `json:"id"`
	MemoryID                string    `json:"memoryId"`
	CorrectedContent        string    `json:"correctedContent"`
	OriginalContentSnapshot string    `json:"originalContentSnapshot"`
	Reason                  string    `json:"reason,omitempty"`
	CorrectedBy             *string   `json:"correctedBy,omitempty"`
	CorrectedAt             time.Time `json:"correctedAt"`
}

// UploadStatus and ProcessingStatus track an Attachment's lifecycle.
type UploadStatus string
type ProcessingStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"

	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Attachment is owned 1:N by Memory (§3, §4.9).
type Attachment struct {
	ID                 string         `json:"id"`
	MemoryID           string         `json:"memoryId"`
	Filename           string         `json:"filename"`
	MimeType           string         `json:"mimeType"`
	FileSize           int64          `json:"fileSize"`
	FileHash           string         `json:"fileHash"`
	StoragePath        string         `json:"storagePath"`
	UploadStatus       UploadStatus   `json:"uploadStatus"`
	ProcessingStatus   ProcessingStatus `json:"processingStatus"`
	ExtractedText      string         `json:"extractedText,omitempty"`
	ExtractedMetadata  map[string]any `json:"extractedMetadata,omitempty"`
	ContentDescription string         `json:"contentDescription,omitempty"`
	ThumbnailPath      string         `json:"thumbnailPath,omitempty"`
	ContentEmbedding   []float32      `json:"-"`
	EmbeddingModel     string         `json:"embeddingModel,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// EntityType is coerced to EntityOther when the extractor returns an
// unrecognized value (§4.6).
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityEvent        EntityType = "event"
	EntityProject      EntityType = "project"
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityDocument     EntityType = "document"
	EntityOther        EntityType = "other"
)

func NormalizeEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityPerson, EntityOrganization, EntityLocation, EntityEvent,
		EntityProject, EntityTechnology, EntityConcept, EntityDocument:
		return EntityType(s)
	default:
		return EntityOther
	}
}

// Entity is globally addressable by case-folded name or alias (§3, §4.6).
type Entity struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	EntityType      EntityType     `json:"entityType"`
	Aliases         []string       `json:"aliases,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	OccurrenceCount int            `json:"occurrenceCount"`
	FirstSeen       time.Time      `json:"firstSeen"`
	LastSeen        time.Time      `json:"lastSeen"`
	Embedding       []float32      `json:"-"`
}

// Relation connects two entities; unique on (From,To,Type) (§3, §4.6).
type Relation struct {
	ID             string         `json:"id"`
	FromEntityID   string         `json:"fromEntityId"`
	ToEntityID     string         `json:"toEntityId"`
	RelationType   string         `json:"relationType"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Confidence     float64        `json:"confidence"`
	SourceMemoryID *string        `json:"sourceMemoryId,omitempty"`
}

// MemoryEntityAssociation links a Memory to an Entity with a relevance score.
type MemoryEntityAssociation struct {
	MemoryID      string
	EntityID      string
	RelevanceScore float64
}

type ActionItemStatus string

const (
	ActionPending    ActionItemStatus = "pending"
	ActionInProgress ActionItemStatus = "in_progress"
	ActionCompleted  ActionItemStatus = "completed"
	ActionCancelled  ActionItemStatus = "cancelled"
)

// ActionItem is an owned sub-record of a Memory.
type ActionItem struct {
	ID       string
	MemoryID string
	Text     string
	Status   ActionItemStatus
	Priority string
	DueDate  *time.Time
}

type ReferenceType string

const (
	ReferenceURL        ReferenceType = "url"
	ReferenceGitHub     ReferenceType = "github"
	ReferenceSlackUser  ReferenceType = "slack_user"
	ReferenceEmail      ReferenceType = "email"
	ReferencePhone      ReferenceType = "phone"
)

// ExternalReference is an owned sub-record of a Memory.
type ExternalReference struct {
	ID            string
	MemoryID      string
	ReferenceType ReferenceType
	Value         string
	Context       string
	IsValid       bool
}

type ConversationLinkType string

const (
	LinkContinuation ConversationLinkType = "continuation"
	LinkReference    ConversationLinkType = "reference"
	LinkRelated      ConversationLinkType = "related"
	LinkFollowup     ConversationLinkType = "followup"
)

// ConversationLink connects two conversations; unique on (Source,Target).
type ConversationLink struct {
	SourceConversationID string
	TargetConversationID string
	LinkType             ConversationLinkType
	Context              string
}

// EffectiveContent returns the corrected content when a Correction is
// present, else the memory's own content (§3).
func EffectiveContent(m Memory, latestCorrection *Correction) string {
	if latestCorrection != nil {
		return latestCorrection.CorrectedContent
	}
	return m.Content
}
