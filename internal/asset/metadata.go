package asset

import (
	"fmt"
	"strings"
	"time"
)

// Metadata is the variant-specific payload of an asset. The set of
// implementations is closed: FileMetadata, SenderMetadata, MessageMetadata.
type Metadata interface {
	SourceKind() SourceKind
	sealed()
}

// Visitor handles every metadata arm. Adding an arm adds a method here, so every
// implementation must be updated before the build passes.
type Visitor[T any] interface {
	File(FileMetadata) T
	Sender(SenderMetadata) T
	Message(MessageMetadata) T
}

// Match dispatches m to the matching Visitor method.
func Match[T any](m Metadata, v Visitor[T]) T {
	switch m := m.(type) {
	case FileMetadata:
		return v.File(m)
	case SenderMetadata:
		return v.Sender(m)
	case MessageMetadata:
		return v.Message(m)
	default:
		panic(fmt.Sprintf("asset: unhandled metadata variant %T", m))
	}
}

// FileClass is the unified classification of a file's mime type.
type FileClass string

const (
	FileClassDocument     FileClass = "document"
	FileClassSpreadsheet  FileClass = "spreadsheet"
	FileClassPresentation FileClass = "presentation"
	FileClassPDF          FileClass = "pdf"
	FileClassImage        FileClass = "image"
	FileClassVideo        FileClass = "video"
	FileClassAudio        FileClass = "audio"
	FileClassArchive      FileClass = "archive"
	FileClassFolder       FileClass = "folder"
	FileClassForm         FileClass = "form"
	FileClassOther        FileClass = "other"
)

var exactMimeClasses = map[string]FileClass{
	"application/vnd.google-apps.document":                                      FileClassDocument,
	"application/vnd.google-apps.spreadsheet":                                   FileClassSpreadsheet,
	"application/vnd.google-apps.presentation":                                  FileClassPresentation,
	"application/vnd.google-apps.folder":                                        FileClassFolder,
	"application/vnd.google-apps.form":                                          FileClassForm,
	"application/pdf":                                                           FileClassPDF,
	"application/msword":                                                        FileClassDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FileClassDocument,
	"application/vnd.ms-excel":                                                  FileClassSpreadsheet,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FileClassSpreadsheet,
	"text/csv":                                                                  FileClassSpreadsheet,
	"application/vnd.ms-powerpoint":                                             FileClassPresentation,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FileClassPresentation,
	"application/zip":                                                           FileClassArchive,
	"application/x-7z-compressed":                                               FileClassArchive,
	"application/x-tar":                                                         FileClassArchive,
	"application/gzip":                                                          FileClassArchive,
	"text/plain":                                                                FileClassDocument,
}

// ClassifyMimeType maps a free-text mime type to a FileClass. Unknown values are
// FileClassOther, never an error.
func ClassifyMimeType(mimeType string) FileClass {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if class, ok := exactMimeClasses[mimeType]; ok {
		return class
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return FileClassImage
	case strings.HasPrefix(mimeType, "video/"):
		return FileClassVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return FileClassAudio
	default:
		return FileClassOther
	}
}

// Permission is one grant on a file.
type Permission struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type"`
	Role         string `json:"role,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Domain       string `json:"domain,omitempty"`
}

type FileMetadata struct {
	MimeType           string       `json:"mimeType"`
	FileClass          FileClass    `json:"fileType"`
	PermissionCount    int          `json:"permissionCount"`
	ExternalShareCount int          `json:"externalShareCount"`
	IsOrphaned         bool         `json:"isOrphaned"`
	IsInactive         bool         `json:"isInactive"`
	IsPublic           bool         `json:"isPublic"`
	IsDomainShared     bool         `json:"isDomainShared"`
	Permissions        []Permission `json:"permissions,omitempty"`
	WebViewLink        string       `json:"webViewLink,omitempty"`
	SizeBytes          int64        `json:"sizeBytes,omitempty"`
}

func (FileMetadata) SourceKind() SourceKind { return KindDrive }
func (FileMetadata) sealed()                {}

type SenderMetadata struct {
	Email           string    `json:"email"`
	Domain          string    `json:"domain"`
	EmailCount      int       `json:"emailCount"`
	AttachmentCount int       `json:"attachmentCount"`
	FirstEmailAt    time.Time `json:"firstEmailAt"`
	LastEmailAt     time.Time `json:"lastEmailAt"`
	HasUnsubscribe  bool      `json:"hasUnsubscribe"`
	IsUnsubscribed  bool      `json:"isUnsubscribed"`
	UnsubscribeLink string    `json:"unsubscribeLink,omitempty"`
	IsVerified      bool      `json:"isVerified"`
}

func (SenderMetadata) SourceKind() SourceKind { return KindSender }
func (SenderMetadata) sealed()                {}

type MessageMetadata struct {
	ThreadID        string `json:"threadId,omitempty"`
	From            string `json:"from"`
	Subject         string `json:"subject"`
	HasAttachments  bool   `json:"hasAttachments"`
	AttachmentCount int    `json:"attachmentCount"`
	IsVerified      bool   `json:"isVerified"`
	SizeBytes       int64  `json:"sizeBytes,omitempty"`
}

func (MessageMetadata) SourceKind() SourceKind { return KindMessage }
func (MessageMetadata) sealed()                {}
