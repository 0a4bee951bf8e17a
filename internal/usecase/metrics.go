package usecase

// AuthMetricsRecorder receives authentication and link outcomes. telemetry.AuthMetrics implements it.
type AuthMetricsRecorder interface {
	LoginSucceeded()
	LoginFailed(reason string)
	Refresh(outcome string)
	PasswordReset(outcome string)
	Registered()
	LinkCompleted(provider, outcome string)
	Unlinked(provider string)
}

type noopMetrics struct{}

func (noopMetrics) LoginSucceeded()              {}
func (noopMetrics) LoginFailed(string)           {}
func (noopMetrics) Refresh(string)               {}
func (noopMetrics) PasswordReset(string)         {}
func (noopMetrics) Registered()                  {}
func (noopMetrics) LinkCompleted(string, string) {}
func (noopMetrics) Unlinked(string)              {}

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)
