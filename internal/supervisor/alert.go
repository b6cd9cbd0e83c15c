package supervisor

// AlertKind names the stage of a failed start so clients can present
// an actionable message instead of a bare error string.
type AlertKind string

const (
	AlertEmptyConfiguration AlertKind = "empty_configuration"
	AlertCreateService      AlertKind = "create_service"
	AlertStartService       AlertKind = "start_service"
	AlertStartCommandServer AlertKind = "start_command_server"
)

// Alert describes why a start attempt failed.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}
