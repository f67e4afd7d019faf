package drive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/normalize"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

const fileFields = "id,name,mimeType,owners(displayName,emailAddress),permissions(id,type,role,emailAddress,domain),createdTime,modifiedTime,viewedByMeTime,shared,trashed,webViewLink,size"

const (
	permissionAnyone = "anyone"
	permissionDomain = "domain"
	permissionUser   = "user"
	permissionGroup  = "group"
)

// filePayload is the Drive v3 file resource as stored in the raw record,
// plus the owner lookup made at discovery time.
type filePayload struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	MimeType       string           `json:"mimeType"`
	Owners         []fileOwner      `json:"owners,omitempty"`
	Permissions    []filePermission `json:"permissions,omitempty"`
	CreatedTime    string           `json:"createdTime,omitempty"`
	ModifiedTime   string           `json:"modifiedTime,omitempty"`
	ViewedByMeTime string           `json:"viewedByMeTime,omitempty"`
	Shared         bool             `json:"shared,omitempty"`
	Trashed        bool             `json:"trashed,omitempty"`
	WebViewLink    string           `json:"webViewLink,omitempty"`
	Size           string           `json:"size,omitempty"`

	// OwnerExists is nil when the directory was not consulted.
	OwnerExists *bool `json:"ownerExists,omitempty"`
}

type fileOwner struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type filePermission struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress"`
	Domain       string `json:"domain"`
}

func decodeFile(raw []byte) (filePayload, error) {
	var f filePayload
	if err := json.Unmarshal(raw, &f); err != nil {
		return filePayload{}, fmt.Errorf("decode drive file: %w", err)
	}
	f.ID = strings.TrimSpace(f.ID)
	return f, nil
}

func (f filePayload) owner() fileOwner {
	if len(f.Owners) == 0 {
		return fileOwner{}
	}
	return fileOwner{
		DisplayName:  strings.TrimSpace(f.Owners[0].DisplayName),
		EmailAddress: normalize.Lower(f.Owners[0].EmailAddress),
	}
}

func (f filePayload) lastActivity() time.Time {
	modified := googleapi.ParseTime(f.ModifiedTime)
	viewed := googleapi.ParseTime(f.ViewedByMeTime)
	if viewed.After(modified) {
		return viewed
	}
	return modified
}

func (f filePayload) record(fetchedAt time.Time) (rawstore.Record, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return rawstore.Record{}, fmt.Errorf("encode drive file %s: %w", f.ID, err)
	}
	owner := f.owner()
	return rawstore.Record{
		Kind:        asset.KindDrive,
		LocalID:     f.ID,
		DisplayName: strings.TrimSpace(f.Name),
		Owner:       normalize.FirstNonEmpty(owner.EmailAddress, owner.DisplayName),
		Payload:     payload,
		FetchedAt:   fetchedAt,
	}, nil
}

// metadata derives the sharing posture of the file. Missing fields fall back
// to the lowest-risk value.
func (f filePayload) metadata(inactive bool) asset.FileMetadata {
	owner := f.owner()
	meta := asset.FileMetadata{
		MimeType:        strings.TrimSpace(f.MimeType),
		FileClass:       asset.ClassifyMimeType(f.MimeType),
		PermissionCount: len(f.Permissions),
		IsInactive:      inactive,
		IsOrphaned:      f.OwnerExists != nil && !*f.OwnerExists,
		WebViewLink:     strings.TrimSpace(f.WebViewLink),
	}
	if size, err := strconv.ParseInt(strings.TrimSpace(f.Size), 10, 64); err == nil && size > 0 {
		meta.SizeBytes = size
	}

	meta.Permissions = make([]asset.Permission, 0, len(f.Permissions))
	for _, p := range f.Permissions {
		kind := normalize.Lower(p.Type)
		email := normalize.Lower(p.EmailAddress)
		meta.Permissions = append(meta.Permissions, asset.Permission{
			ID:           strings.TrimSpace(p.ID),
			Type:         kind,
			Role:         normalize.Lower(p.Role),
			EmailAddress: email,
			Domain:       normalize.Lower(p.Domain),
		})
		switch kind {
		case permissionAnyone:
			meta.IsPublic = true
		case permissionDomain:
			meta.IsDomainShared = true
		case permissionUser, permissionGroup:
			if email == "" || email == owner.EmailAddress {
				continue
			}
			if owner.EmailAddress != "" && !normalize.SameOrganization(owner.EmailAddress, email) {
				meta.ExternalShareCount++
			}
		}
	}
	return meta
}
