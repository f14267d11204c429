package user

import "strconv"

// Tier thresholds on lifetime uploads.
const (
	Level2Threshold = 50
	Level3Threshold = 100

	defaultDailyLimit DailyLimit = 7
)

// DailyLimit is the number of coupons a user may upload per calendar day.
type DailyLimit int

// Unlimited never denies an upload.
const Unlimited DailyLimit = -1

// Unbounded reports whether l places no cap on daily uploads.
func (l DailyLimit) Unbounded() bool {
	return l < 0
}

// Allows reports whether a user who already uploaded count coupons today
// may upload one more.
func (l DailyLimit) Allows(count int) bool {
	return l.Unbounded() || count < int(l)
}

func (l DailyLimit) String() string {
	if l.Unbounded() {
		return "unlimited"
	}
	return strconv.Itoa(int(l))
}

// Tier is the trust level derived from a user's lifetime upload count. It is
// cached on the user record and rewritten on every counter change.
type Tier struct {
	Level                int
	PrepaymentPercentage int
	DailyUploadLimit     DailyLimit
}

// ComputeTier maps a lifetime upload count to its tier.
func ComputeTier(totalUploaded int) Tier {
	switch {
	case totalUploaded >= Level3Threshold:
		return Tier{Level: 3, PrepaymentPercentage: 3, DailyUploadLimit: Unlimited}
	case totalUploaded >= Level2Threshold:
		return Tier{Level: 2, PrepaymentPercentage: 1, DailyUploadLimit: defaultDailyLimit}
	default:
		return Tier{Level: 1, PrepaymentPercentage: 0, DailyUploadLimit: defaultDailyLimit}
	}
}
