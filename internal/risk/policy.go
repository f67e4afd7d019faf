// Package risk scores normalized asset metadata under a configurable, additive policy.
package risk

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy holds the weights and thresholds applied by the Scorer. Weights are
// additive and the total is clamped to [0,100].
type Policy struct {
	FilePublicWeight        int
	FileDomainSharedWeight  int
	FileOrphanedWeight      int
	FileInactiveWeight      int
	FileExternalShareWeight int
	FileInactiveAfter       time.Duration

	SenderUnverifiedWeight       int
	SenderHighVolumeWeight       int
	SenderHighVolumeThreshold    int
	SenderNoUnsubscribeWeight    int
	SenderNoUnsubscribeMinVolume int
	SenderAttachmentWeight       int

	MessageUnverifiedWeight int
	MessageAttachmentWeight int
}

func DefaultPolicy() Policy {
	return Policy{
		FilePublicWeight:        50,
		FileDomainSharedWeight:  25,
		FileOrphanedWeight:      15,
		FileInactiveWeight:      10,
		FileExternalShareWeight: 10,
		FileInactiveAfter:       180 * 24 * time.Hour,

		SenderUnverifiedWeight:       40,
		SenderHighVolumeWeight:       25,
		SenderHighVolumeThreshold:    100,
		SenderNoUnsubscribeWeight:    10,
		SenderNoUnsubscribeMinVolume: 10,
		SenderAttachmentWeight:       10,

		MessageUnverifiedWeight: 40,
		MessageAttachmentWeight: 25,
	}
}

// PolicyFromEnv overlays RISK_* environment variables on DefaultPolicy.
// Unparseable or negative values keep the default.
func PolicyFromEnv() Policy {
	p := DefaultPolicy()
	intVars := []struct {
		key string
		dst *int
	}{
		{"RISK_FILE_PUBLIC_WEIGHT", &p.FilePublicWeight},
		{"RISK_FILE_DOMAIN_SHARED_WEIGHT", &p.FileDomainSharedWeight},
		{"RISK_FILE_ORPHANED_WEIGHT", &p.FileOrphanedWeight},
		{"RISK_FILE_INACTIVE_WEIGHT", &p.FileInactiveWeight},
		{"RISK_FILE_EXTERNAL_SHARE_WEIGHT", &p.FileExternalShareWeight},
		{"RISK_SENDER_UNVERIFIED_WEIGHT", &p.SenderUnverifiedWeight},
		{"RISK_SENDER_HIGH_VOLUME_WEIGHT", &p.SenderHighVolumeWeight},
		{"RISK_SENDER_HIGH_VOLUME_THRESHOLD", &p.SenderHighVolumeThreshold},
		{"RISK_SENDER_NO_UNSUBSCRIBE_WEIGHT", &p.SenderNoUnsubscribeWeight},
		{"RISK_SENDER_NO_UNSUBSCRIBE_MIN_VOLUME", &p.SenderNoUnsubscribeMinVolume},
		{"RISK_SENDER_ATTACHMENT_WEIGHT", &p.SenderAttachmentWeight},
		{"RISK_MESSAGE_UNVERIFIED_WEIGHT", &p.MessageUnverifiedWeight},
		{"RISK_MESSAGE_ATTACHMENT_WEIGHT", &p.MessageAttachmentWeight},
	}
	for _, v := range intVars {
		raw := strings.TrimSpace(os.Getenv(v.key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			continue
		}
		*v.dst = n
	}
	if raw := strings.TrimSpace(os.Getenv("RISK_FILE_INACTIVE_DAYS")); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			p.FileInactiveAfter = time.Duration(days) * 24 * time.Hour
		}
	}
	return p
}
