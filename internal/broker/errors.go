package broker

import "fmt"

// TransientError wraps a broker failure that is safe to retry (timeouts,
// 5xx, explicit rate-limit codes) — spec §7 TransientBrokerFailure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("broker %s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a broker failure that must not be retried
// (rejection, insufficient margin, instrument halted) — spec §7
// PermanentBrokerFailure.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("broker %s: permanent: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	_, ok := err.(*TransientError)
	return ok
}
