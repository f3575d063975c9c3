package admin

import "fmt"

// RemoteCallError reports a failed admin-service call. It carries the
// operation name and full URL for diagnostics, plus either the
// transport-level error or the service's own failure message.
type RemoteCallError struct {
	Op         string
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("admin call %s failed (%s): %v", e.Op, e.URL, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("admin call %s failed (%s): HTTP %d: %s", e.Op, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("admin call %s failed (%s): %s", e.Op, e.URL, e.Message)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
