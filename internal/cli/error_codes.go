package cli

const (
	codeUsage   = "SKILLEVAL_E_USAGE"
	codeIO      = "SKILLEVAL_E_IO"
	codeInvalid = "SKILLEVAL_E_INVALID"
	codeRun     = "SKILLEVAL_E_RUN"
)

// CliError carries a stable code and the process exit status it maps to.
type CliError struct {
	Code    string
	Message string
	Exit    int
}

func (e *CliError) Error() string { return e.Message }

func usageError(msg string) error {
	return &CliError{Code: codeUsage, Message: msg, Exit: 2}
}

func invalidError(msg string, exit int) error {
	return &CliError{Code: codeInvalid, Message: msg, Exit: exit}
}

func ioError(msg string) error {
	return &CliError{Code: codeIO, Message: msg, Exit: 1}
}

// exitStatus is returned by commands that finished normally but must exit
// non-zero, e.g. a run with failing cases. Nothing is printed for it.
type exitStatus int

func (e exitStatus) Error() string { return "exit status" }
