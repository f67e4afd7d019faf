package asset

import (
	"fmt"
	"strings"
)

// SourceKind identifies the backing system record type an asset was produced from.
type SourceKind string

const (
	KindDrive   SourceKind = "drive"
	KindSender  SourceKind = "sender"
	KindMessage SourceKind = "message"
)

// idSeparator joins kind and local id. It must never appear in a SourceKind.
const idSeparator = "_"

var sourceKinds = []SourceKind{KindDrive, KindSender, KindMessage}

// SourceKinds returns the closed set of source kinds in display order.
func SourceKinds() []SourceKind {
	return append([]SourceKind(nil), sourceKinds...)
}

func ParseSourceKind(raw string) (SourceKind, error) {
	kind := SourceKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown source kind %q", raw)
	}
	return kind, nil
}

func (k SourceKind) Valid() bool {
	switch k {
	case KindDrive, KindSender, KindMessage:
		return true
	default:
		return false
	}
}

// Platform returns the connected platform that owns records of this kind.
func (k SourceKind) Platform() Platform {
	switch k {
	case KindDrive:
		return PlatformGoogleDrive
	case KindSender, KindMessage:
		return PlatformGmail
	default:
		return ""
	}
}

// Type returns the unified asset type produced for this kind.
func (k SourceKind) Type() Type {
	switch k {
	case KindDrive:
		return TypeFile
	case KindSender:
		return TypeSender
	case KindMessage:
		return TypeMessage
	default:
		return ""
	}
}

// Platform is a connected workspace service. One platform may produce several source kinds.
type Platform string

const (
	PlatformGoogleDrive Platform = "google_drive"
	PlatformGmail       Platform = "gmail"
)

var platforms = []Platform{PlatformGoogleDrive, PlatformGmail}

func Platforms() []Platform {
	return append([]Platform(nil), platforms...)
}

func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", raw)
	}
	return p, nil
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformGoogleDrive, PlatformGmail:
		return true
	default:
		return false
	}
}

// Kinds returns the source kinds served by the platform.
func (p Platform) Kinds() []SourceKind {
	out := make([]SourceKind, 0, 2)
	for _, kind := range sourceKinds {
		if kind.Platform() == p {
			out = append(out, kind)
		}
	}
	return out
}

// ID is the composite identity of an asset: the source kind plus the id local to that source.
type ID struct {
	Kind    SourceKind
	LocalID string
}

func NewID(kind SourceKind, localID string) ID {
	return ID{Kind: kind, LocalID: strings.TrimSpace(localID)}
}

// String encodes the id as a single token, e.g. "drive_1AbC".
func (id ID) String() string {
	return string(id.Kind) + idSeparator + id.LocalID
}

func (id ID) Valid() bool {
	return id.Kind.Valid() && id.LocalID != ""
}

// DecodeID splits a token produced by ID.String back into its parts. Local ids may
// themselves contain the separator; only the first occurrence delimits the kind.
func DecodeID(raw string) (ID, error) {
	raw = strings.TrimSpace(raw)
	kindPart, localID, ok := strings.Cut(raw, idSeparator)
	if !ok {
		return ID{}, &Error{Kind: ErrDecode, Op: "decode id", Err: fmt.Errorf("%q has no kind separator", raw)}
	}
	kind := SourceKind(kindPart)
	if !kind.Valid() {
		return ID{}, &Error{Kind: ErrDecode, Op: "decode id", Err: fmt.Errorf("unknown source kind %q", kindPart)}
	}
	if localID == "" {
		return ID{}, &Error{Kind: ErrDecode, Op: "decode id", Err: fmt.Errorf("%q has an empty local id", raw)}
	}
	return ID{Kind: kind, LocalID: localID}, nil
}

func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("asset id is incomplete: kind=%q local_id=%q", id.Kind, id.LocalID)
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	decoded, err := DecodeID(string(text))
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}
