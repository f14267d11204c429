package coupon

// Status is the lifecycle state of a coupon.
//
//	not_verified -> approved | rejected | expired
//	approved     -> sold | expired
//	rejected, sold            absorbing
//
// Moderation is looser than the diagram: an approved or rejected verdict is
// accepted from any current status, including sold and expired.
type Status string

const (
	StatusNotVerified Status = "not_verified"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusSold        Status = "sold"
	StatusExpired     Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotVerified, StatusApproved, StatusRejected, StatusSold, StatusExpired:
		return true
	}
	return false
}

// ParseModeration validates a moderation target.
func ParseModeration(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusApproved, StatusRejected:
		return st, nil
	}
	return "", ErrInvalidStatus
}
