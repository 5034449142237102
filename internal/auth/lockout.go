package auth

// DefaultLockoutThreshold is the failed-login count at which an account locks.
const DefaultLockoutThreshold = 5

// LockoutPolicy decides whether an account's failed-login counter blocks login.
// There is no timed unlock: the counter resets on a successful login, a
// completed password reset or an administrator unlock.
type LockoutPolicy struct {
	Threshold int
}

// Locked reports whether failed has reached the threshold. A zero Threshold
// means DefaultLockoutThreshold.
func (p LockoutPolicy) Locked(failed int) bool {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	return failed >= threshold
}
